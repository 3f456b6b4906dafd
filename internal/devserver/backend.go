// Package devserver is an in-memory stand-in for the agency backend. It keeps
// per-user resources and answers realtime user messages with canned agent replies.
package devserver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/utils"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNotApproved = errors.New("skill is not approved")
	ErrInvalid     = errors.New("invalid input")
)

// Version reported by the /version endpoint.
const Version = "dev"

type collection[T any] struct {
	items map[string]T
	order []string
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{items: make(map[string]T)}
}

func (c *collection[T]) list() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *collection[T]) get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

func (c *collection[T]) put(id string, v T) {
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = v
}

func (c *collection[T]) remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

type userData struct {
	secrets  map[string]string
	profile  api.Profile
	skills   *collection[api.Skill]
	agents   *collection[api.Agent]
	agencies *collection[api.Agency]
	sessions *collection[api.Session]
	messages map[string][]api.Message
}

// Backend holds every user's resources.
type Backend struct {
	mu    sync.Mutex
	users map[string]*userData
	now   func() time.Time
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		users: make(map[string]*userData),
		now:   time.Now,
	}
}

func (b *Backend) user(uid string) *userData {
	u, ok := b.users[uid]
	if !ok {
		u = &userData{
			secrets:  make(map[string]string),
			profile:  api.Profile{ID: uid},
			skills:   newCollection[api.Skill](),
			agents:   newCollection[api.Agent](),
			agencies: newCollection[api.Agency](),
			sessions: newCollection[api.Session](),
			messages: make(map[string][]api.Message),
		}
		b.users[uid] = u
	}
	return u
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// SecretNames lists the names of stored secrets; values are never returned.
func (b *Backend) SecretNames(uid string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return secretNames(b.user(uid))
}

// SetSecrets merges values into the user's secrets.
func (b *Backend) SetSecrets(uid string, values map[string]string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	for k, v := range values {
		u.secrets[k] = v
	}
	return secretNames(u)
}

func secretNames(u *userData) []string {
	names := make([]string, 0, len(u.secrets))
	for k := range u.secrets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Profile(uid, email string) api.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if u.profile.Email == "" {
		u.profile.Email = email
	}
	return u.profile
}

func (b *Backend) UpdateProfile(uid string, p api.Profile) api.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	p.ID = uid
	if p.Email == "" {
		p.Email = u.profile.Email
	}
	u.profile = p
	return p
}

func (b *Backend) Skills(uid string) []api.Skill {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user(uid).skills.list()
}

func (b *Backend) Skill(uid, id string) (api.Skill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.user(uid).skills.get(id)
	if !ok {
		return api.Skill{}, fmt.Errorf("skill %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// SaveSkill creates or updates a skill. Every save bumps the version and revokes approval.
func (b *Backend) SaveSkill(uid string, s api.Skill) (api.Skill, error) {
	if s.Title == "" {
		return api.Skill{}, fmt.Errorf("skill title is required: %w", ErrInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	version := 0
	if s.ID == "" {
		s.ID = utils.NewID()
	} else if prev, ok := u.skills.get(s.ID); ok {
		version = prev.Version
	} else {
		return api.Skill{}, fmt.Errorf("skill %q: %w", s.ID, ErrNotFound)
	}
	s.UserID = uid
	s.Version = version + 1
	s.Approved = false
	s.Timestamp = b.timestamp()
	u.skills.put(s.ID, s)
	return s, nil
}

func (b *Backend) DeleteSkill(uid, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.user(uid).skills.remove(id) {
		return fmt.Errorf("skill %q: %w", id, ErrNotFound)
	}
	return nil
}

func (b *Backend) ApproveSkill(uid, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	s, ok := u.skills.get(id)
	if !ok {
		return fmt.Errorf("skill %q: %w", id, ErrNotFound)
	}
	s.Approved = true
	u.skills.put(id, s)
	return nil
}

// ExecuteSkill pretends to run an approved skill.
func (b *Backend) ExecuteSkill(uid string, e api.SkillExecution) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.user(uid).skills.get(e.ID)
	if !ok {
		return nil, fmt.Errorf("skill %q: %w", e.ID, ErrNotFound)
	}
	if !s.Approved {
		return nil, ErrNotApproved
	}
	return map[string]any{"skill": s.Title, "output": "executed " + s.Title}, nil
}

func (b *Backend) Agents(uid string) []api.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user(uid).agents.list()
}

func (b *Backend) Agent(uid, id string) (api.Agent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.user(uid).agents.get(id)
	if !ok {
		return api.Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (b *Backend) SaveAgent(uid string, a api.Agent) (api.Agent, error) {
	if a.Name == "" {
		return api.Agent{}, fmt.Errorf("agent name is required: %w", ErrInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if a.ID == "" {
		a.ID = utils.NewID()
	} else if _, ok := u.agents.get(a.ID); !ok {
		return api.Agent{}, fmt.Errorf("agent %q: %w", a.ID, ErrNotFound)
	}
	a.UserID = uid
	u.agents.put(a.ID, a)
	return a, nil
}

func (b *Backend) DeleteAgent(uid, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.user(uid).agents.remove(id) {
		return fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return nil
}

func (b *Backend) Agencies(uid string) []api.Agency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user(uid).agencies.list()
}

func (b *Backend) Agency(uid, id string) (api.Agency, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.user(uid).agencies.get(id)
	if !ok {
		return api.Agency{}, fmt.Errorf("agency %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (b *Backend) SaveAgency(uid string, a api.Agency) (api.Agency, error) {
	if a.Name == "" {
		return api.Agency{}, fmt.Errorf("agency name is required: %w", ErrInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if a.ID == "" {
		a.ID = utils.NewID()
	} else if _, ok := u.agencies.get(a.ID); !ok {
		return api.Agency{}, fmt.Errorf("agency %q: %w", a.ID, ErrNotFound)
	}
	a.UserID = uid
	a.Timestamp = b.timestamp()
	u.agencies.put(a.ID, a)
	return a, nil
}

// DeleteAgency removes the agency together with its sessions.
func (b *Backend) DeleteAgency(uid, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if !u.agencies.remove(id) {
		return fmt.Errorf("agency %q: %w", id, ErrNotFound)
	}
	for _, s := range u.sessions.list() {
		if s.AgencyID == id {
			u.sessions.remove(s.SessionID)
			delete(u.messages, s.SessionID)
		}
	}
	return nil
}

func (b *Backend) Sessions(uid string) []api.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user(uid).sessions.list()
}

// Session returns a session that belongs to agencyID. An empty agencyID matches any.
func (b *Backend) Session(uid, agencyID, sessionID string) (api.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.user(uid).sessions.get(sessionID)
	if !ok || (agencyID != "" && s.AgencyID != agencyID) {
		return api.Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return s, nil
}

func (b *Backend) CreateSession(uid, agencyID string) (api.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if _, ok := u.agencies.get(agencyID); !ok {
		return api.Session{}, fmt.Errorf("agency %q: %w", agencyID, ErrNotFound)
	}
	s := api.Session{
		SessionID: utils.NewID(),
		UserID:    uid,
		AgencyID:  agencyID,
		CreatedAt: b.now().Unix(),
	}
	u.sessions.put(s.SessionID, s)
	return s, nil
}

func (b *Backend) DeleteSession(uid, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if !u.sessions.remove(id) {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	delete(u.messages, id)
	return nil
}

// Messages returns a session's messages, only those after the given id when after is set.
func (b *Backend) Messages(uid, sessionID, after string) ([]api.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if _, ok := u.sessions.get(sessionID); !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	msgs := u.messages[sessionID]
	if after != "" {
		for i, m := range msgs {
			if m.ID == after {
				msgs = msgs[i+1:]
				break
			}
		}
	}
	return append([]api.Message{}, msgs...), nil
}

// PostMessage appends a message to a session.
func (b *Backend) PostMessage(uid string, m api.Message) (api.Message, error) {
	if m.Content == "" {
		return api.Message{}, fmt.Errorf("message content is required: %w", ErrInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(b.user(uid), m)
}

func (b *Backend) appendLocked(u *userData, m api.Message) (api.Message, error) {
	s, ok := u.sessions.get(m.SessionID)
	if !ok {
		return api.Message{}, fmt.Errorf("session %q: %w", m.SessionID, ErrNotFound)
	}
	if m.Role == "" {
		m.Role = "user"
	}
	m.ID = utils.NewID()
	m.AgencyID = s.AgencyID
	m.Timestamp = b.timestamp()
	u.messages[m.SessionID] = append(u.messages[m.SessionID], m)
	return m, nil
}

// Reply is the outcome of a user message sent over a realtime channel.
type Reply struct {
	Sender  string
	Message api.Message
}

// Converse stores the user's message and the main agent's answer to it.
func (b *Backend) Converse(uid, sessionID, content string) (Reply, error) {
	if content == "" {
		return Reply{}, fmt.Errorf("message content is required: %w", ErrInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.user(uid)
	if _, err := b.appendLocked(u, api.Message{SessionID: sessionID, Role: "user", Content: content}); err != nil {
		return Reply{}, err
	}

	sender := "Agent"
	if s, ok := u.sessions.get(sessionID); ok {
		if a, ok := u.agencies.get(s.AgencyID); ok && a.MainAgent != "" {
			sender = a.MainAgent
		}
	}
	answer, err := b.appendLocked(u, api.Message{SessionID: sessionID, Role: "assistant", Content: "Received: " + content})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Sender: sender, Message: answer}, nil
}
