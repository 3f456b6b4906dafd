// Package auth keeps the credential valid: it signs principals in and out and
// refreshes the access token from the identity provider when it goes stale.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/identity"
	"github.com/vovakirdan/agencyctl/internal/log"
)

// DefaultLifetime is how long a freshly issued token is trusted before the next refresh.
// It is shorter than the provider's one hour token lifetime.
const DefaultLifetime = 55 * time.Minute

// DefaultRefreshTimeout bounds one shared provider refresh.
const DefaultRefreshTimeout = 30 * time.Second

// ErrNoPrincipal is returned by SignIn when the provider has nobody signed in.
var ErrNoPrincipal = errors.New("no signed-in principal")

// Validator reports whether the caller may proceed with a valid credential.
type Validator interface {
	EnsureValid(ctx context.Context) bool
}

// Manager is the only writer of the credential store.
type Manager struct {
	store    *credential.Store
	provider identity.Provider
	lifetime time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zerolog.Logger

	group     singleflight.Group
	refreshes atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock sets the time source; tests use it to cross expiry boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log.OrNop(logger)
	}
}

// NewManager creates a manager over store and provider.
func NewManager(store *credential.Store, provider identity.Provider, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		provider: provider,
		lifetime: DefaultLifetime,
		timeout:  DefaultRefreshTimeout,
		now:      time.Now,
		log:      log.OrNop(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid returns true when the stored credential can be used now, refreshing it
// first if it expired. It returns false when the caller has to sign in again.
// Concurrent callers that hit an expired credential share one provider call.
// The shared call does not inherit any caller's cancellation; a caller whose ctx
// ends while waiting gets false on its own.
func (m *Manager) EnsureValid(ctx context.Context) bool {
	cred := m.store.Get()
	if cred.ExpiresAt.IsZero() {
		m.log.Debug().Msg("no credential, sign in required")
		return false
	}
	if m.now().Before(cred.ExpiresAt) {
		return true
	}

	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		// Another caller may have refreshed while this one waited to enter.
		if current := m.store.Get(); !current.ExpiresAt.IsZero() && m.now().Before(current.ExpiresAt) {
			return true, nil
		}
		refreshCtx, cancel := context.WithTimeout(shared, m.timeout)
		defer cancel()
		return m.refresh(refreshCtx), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		m.log.Debug().Err(ctx.Err()).Msg("stopped waiting for token refresh")
		return false
	}
}

func (m *Manager) refresh(ctx context.Context) bool {
	principal, err := m.provider.CurrentPrincipal(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("identity provider unavailable")
		return false
	}
	if principal == nil {
		m.log.Warn().Msg("user not signed in with identity provider")
		return false
	}

	m.refreshes.Add(1)
	tok, err := principal.IssueToken(ctx, true)
	if err != nil {
		m.log.Warn().Err(err).Msg("error refreshing token")
		return false
	}

	m.write(tok, principal)
	m.log.Debug().Str("user_id", tok.UID).Msg("token refreshed")
	return true
}

// SignIn obtains a token from the provider's current principal and stores it.
func (m *Manager) SignIn(ctx context.Context) error {
	principal, err := m.provider.CurrentPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("current principal: %w", err)
	}
	if principal == nil {
		return ErrNoPrincipal
	}

	tok, err := principal.IssueToken(ctx, false)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	m.write(tok, principal)
	m.log.Info().Str("email", tok.Email).Msg("signed in")
	return nil
}

// SignOut destroys the credential.
func (m *Manager) SignOut() {
	m.store.Clear()
	m.log.Info().Msg("signed out")
}

// Refreshes is the number of provider token calls made by EnsureValid.
func (m *Manager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *Manager) write(tok identity.Token, principal identity.Principal) {
	prev := m.store.Get()
	next := credential.Credential{
		AccessToken:  tok.Value,
		ExpiresAt:    m.now().Add(m.lifetime),
		UserID:       tok.UID,
		Email:        tok.Email,
		PrincipalKey: principal.Key(),
	}
	if next.UserID == "" {
		next.UserID = prev.UserID
	}
	if next.Email == "" {
		next.Email = prev.Email
	}
	m.store.Update(next)
}

var _ Validator = (*Manager)(nil)
