package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no credential is saved for a profile.
var ErrNotFound = errors.New("not found")

// CredentialRecord is a persisted credential for one configured profile.
type CredentialRecord struct {
	Profile     string
	AccessToken string
	ExpiresAt   time.Time
	UserID      string
	Email       string
	// PrincipalKey lets the identity provider resume the signed-in principal after a restart.
	PrincipalKey string
	UpdatedAt    time.Time
}

// CredentialStore persists credentials across process restarts.
type CredentialStore interface {
	LoadCredential(ctx context.Context, profile string) (*CredentialRecord, error)
	SaveCredential(ctx context.Context, rec *CredentialRecord) error
	DeleteCredential(ctx context.Context, profile string) error
	ListProfiles(ctx context.Context) ([]string, error)
	Close() error
}
