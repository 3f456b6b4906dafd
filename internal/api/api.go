// Package api exposes the backend's REST resources as typed calls. Every call
// returns an envelope; payloads are passed through without interpretation.
package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/vovakirdan/agencyctl/internal/client"
	"github.com/vovakirdan/agencyctl/internal/envelope"
)

// API wraps a client with the backend's resource paths.
type API struct {
	c *client.Client
}

// New creates an API over c.
func New(c *client.Client) *API {
	return &API{c: c}
}

// Client returns the underlying HTTP client.
func (a *API) Client() *client.Client {
	return a.c
}

func call[T any](ctx context.Context, a *API, method, path string, query url.Values, payload any) envelope.Envelope[T] {
	req := client.Request{Method: method}
	if payload != nil {
		body, err := client.JSON(payload)
		if err != nil {
			return envelope.Envelope[T]{Message: "encode request: " + err.Error()}
		}
		req.Body = body
	}
	env, _ := envelope.Into[T](a.c.Request(ctx, a.c.URL(path, query), req))
	return env
}

func byID(id string) url.Values {
	return url.Values{"id": {id}}
}

// ListVariables returns the names of the stored secrets.
func (a *API) ListVariables(ctx context.Context) envelope.Envelope[[]string] {
	return call[[]string](ctx, a, http.MethodGet, "/user/settings/secrets", nil, nil)
}

// UpdateVariables stores secrets; names already present are overwritten.
func (a *API) UpdateVariables(ctx context.Context, values map[string]string) envelope.Envelope[[]string] {
	return call[[]string](ctx, a, http.MethodPut, "/user/settings/secrets", nil, values)
}

func (a *API) GetProfile(ctx context.Context) envelope.Envelope[Profile] {
	return call[Profile](ctx, a, http.MethodGet, "/user/profile", nil, nil)
}

func (a *API) UpdateProfile(ctx context.Context, p Profile) envelope.Envelope[Profile] {
	return call[Profile](ctx, a, http.MethodPut, "/user/profile", nil, p)
}

func (a *API) ListSkills(ctx context.Context) envelope.Envelope[[]Skill] {
	return call[[]Skill](ctx, a, http.MethodGet, "/skill/list", nil, nil)
}

func (a *API) GetSkill(ctx context.Context, id string) envelope.Envelope[Skill] {
	return call[Skill](ctx, a, http.MethodGet, "/skill", byID(id), nil)
}

// SaveSkill creates the skill when ID is empty and updates it otherwise.
func (a *API) SaveSkill(ctx context.Context, s Skill) envelope.Envelope[Skill] {
	return call[Skill](ctx, a, http.MethodPut, "/skill", nil, s)
}

func (a *API) DeleteSkill(ctx context.Context, id string) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodDelete, "/skill", byID(id), nil)
}

func (a *API) ApproveSkill(ctx context.Context, id string) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodPost, "/skill/approve", byID(id), nil)
}

// ExecuteSkill runs a skill and returns its raw output.
func (a *API) ExecuteSkill(ctx context.Context, e SkillExecution) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodPost, "/skill/execute", nil, e)
}

func (a *API) ListAgents(ctx context.Context) envelope.Envelope[[]Agent] {
	return call[[]Agent](ctx, a, http.MethodGet, "/agent/list", nil, nil)
}

func (a *API) GetAgent(ctx context.Context, id string) envelope.Envelope[Agent] {
	return call[Agent](ctx, a, http.MethodGet, "/agent", byID(id), nil)
}

func (a *API) SaveAgent(ctx context.Context, ag Agent) envelope.Envelope[Agent] {
	return call[Agent](ctx, a, http.MethodPut, "/agent", nil, ag)
}

func (a *API) DeleteAgent(ctx context.Context, id string) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodDelete, "/agent", byID(id), nil)
}

func (a *API) ListAgencies(ctx context.Context) envelope.Envelope[[]Agency] {
	return call[[]Agency](ctx, a, http.MethodGet, "/agency/list", nil, nil)
}

func (a *API) GetAgency(ctx context.Context, id string) envelope.Envelope[Agency] {
	return call[Agency](ctx, a, http.MethodGet, "/agency", byID(id), nil)
}

func (a *API) SaveAgency(ctx context.Context, ag Agency) envelope.Envelope[Agency] {
	return call[Agency](ctx, a, http.MethodPut, "/agency", nil, ag)
}

func (a *API) DeleteAgency(ctx context.Context, id string) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodDelete, "/agency", byID(id), nil)
}

// ListSessions returns sessions of every agency the user owns.
func (a *API) ListSessions(ctx context.Context) envelope.Envelope[[]Session] {
	return call[[]Session](ctx, a, http.MethodGet, "/session/list", nil, nil)
}

func (a *API) CreateSession(ctx context.Context, agencyID string) envelope.Envelope[CreatedSession] {
	return call[CreatedSession](ctx, a, http.MethodPost, "/session", url.Values{"agency_id": {agencyID}}, nil)
}

func (a *API) DeleteSession(ctx context.Context, id string) envelope.Envelope[any] {
	return call[any](ctx, a, http.MethodDelete, "/session", byID(id), nil)
}

// ListMessages returns a session's messages. With a non-empty after only messages
// newer than that id are returned, which lets callers poll.
func (a *API) ListMessages(ctx context.Context, sessionID, after string) envelope.Envelope[[]Message] {
	q := url.Values{"session_id": {sessionID}}
	if after != "" {
		q.Set("after", after)
	}
	return call[[]Message](ctx, a, http.MethodGet, "/message/list", q, nil)
}

func (a *API) PostMessage(ctx context.Context, m Message) envelope.Envelope[Message] {
	return call[Message](ctx, a, http.MethodPost, "/message", nil, m)
}

// Version is unauthenticated.
func (a *API) Version(ctx context.Context) envelope.Envelope[Version] {
	env, _ := envelope.Into[Version](a.c.Public(ctx, a.c.URL("/version", nil), client.Request{Method: http.MethodGet}))
	return env
}
