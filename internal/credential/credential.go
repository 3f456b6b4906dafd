// Package credential holds the access token and expiry of the signed-in principal.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/log"
	"github.com/vovakirdan/agencyctl/internal/store"
)

// Credential is the access token and its absolute expiry.
// A zero AccessToken and a zero ExpiresAt always appear together.
type Credential struct {
	AccessToken  string
	ExpiresAt    time.Time
	UserID       string
	Email        string
	PrincipalKey string
}

// IsZero reports whether no credential is held.
func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.ExpiresAt.IsZero()
}

// Reader exposes the current credential without mutation rights.
type Reader interface {
	Get() Credential
}

// Store owns the current credential. The zero value is not usable; use NewStore or Open.
type Store struct {
	mu      sync.RWMutex
	cred    Credential
	persist store.CredentialStore
	profile string
	log     *zerolog.Logger
}

// NewStore returns an in-memory store holding no credential.
func NewStore() *Store {
	return &Store{log: log.OrNop(nil)}
}

// Open returns a store that writes through to persist under profile and restores
// the last saved credential, if any.
func Open(ctx context.Context, persist store.CredentialStore, profile string, logger *zerolog.Logger) (*Store, error) {
	s := &Store{persist: persist, profile: profile, log: log.OrNop(logger)}

	rec, err := persist.LoadCredential(ctx, profile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	s.cred = normalize(Credential{
		AccessToken:  rec.AccessToken,
		ExpiresAt:    rec.ExpiresAt,
		UserID:       rec.UserID,
		Email:        rec.Email,
		PrincipalKey: rec.PrincipalKey,
	})
	s.log.Debug().Str("profile", profile).Time("expires_at", s.cred.ExpiresAt).Msg("credential restored")
	return s, nil
}

// Get returns a copy of the current credential.
func (s *Store) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Set replaces the token and expiry together, keeping principal details.
// An empty token or zero expiry clears the credential.
func (s *Store) Set(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cred
	next.AccessToken = token
	next.ExpiresAt = expiresAt
	s.replaceLocked(normalize(next))
}

// Update replaces the whole credential, principal details included.
func (s *Store) Update(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(normalize(c))
}

// Clear drops the credential.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(Credential{})
}

func (s *Store) replaceLocked(c Credential) {
	s.cred = c
	if s.persist == nil {
		return
	}

	ctx := context.Background()
	if c.IsZero() {
		if err := s.persist.DeleteCredential(ctx, s.profile); err != nil {
			s.log.Warn().Err(err).Str("profile", s.profile).Msg("failed to delete persisted credential")
		}
		return
	}

	rec := &store.CredentialRecord{
		Profile:      s.profile,
		AccessToken:  c.AccessToken,
		ExpiresAt:    c.ExpiresAt,
		UserID:       c.UserID,
		Email:        c.Email,
		PrincipalKey: c.PrincipalKey,
	}
	if err := s.persist.SaveCredential(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("profile", s.profile).Msg("failed to persist credential")
	}
}

// normalize enforces that token and expiry are set or cleared together.
func normalize(c Credential) Credential {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return Credential{}
	}
	return c
}
