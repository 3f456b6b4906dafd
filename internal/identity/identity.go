// Package identity describes the external identity provider the token refresher
// obtains fresh access tokens from.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownPrincipal is returned by Resume when the key no longer maps to a principal.
var ErrUnknownPrincipal = errors.New("unknown principal")

// Token is a freshly issued access token and the principal it was issued for.
type Token struct {
	Value string
	Email string
	UID   string
	// ExpiresAt is the provider's own expiry; zero when unknown.
	ExpiresAt time.Time
}

// Principal is an authenticated identity able to mint tokens for itself.
type Principal interface {
	// Key is an opaque handle that Resumer.Resume accepts after a restart.
	Key() string
	IssueToken(ctx context.Context, forceRefresh bool) (Token, error)
}

// Provider returns the currently signed-in principal, or nil when nobody is.
type Provider interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}

// Resumer is implemented by providers that can restore a principal from its Key.
type Resumer interface {
	Resume(ctx context.Context, key string) error
}
