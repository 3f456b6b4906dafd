// Package oauth adapts an OAuth2 token endpoint (password and refresh_token grants)
// to identity.Provider. Managed auth services that speak the refresh grant, such as
// a securetoken endpoint, plug in through the token URL.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/vovakirdan/agencyctl/internal/identity"
)

// ErrNoRefreshToken is returned when the token endpoint did not hand out a refresh token.
var ErrNoRefreshToken = errors.New("token endpoint returned no refresh token")

// Provider keeps the refresh token of the signed-in principal.
type Provider struct {
	cfg *oauth2.Config

	mu      sync.RWMutex
	current *principal
}

// NewProvider wraps cfg. Only cfg.Endpoint.TokenURL, ClientID and ClientSecret are used.
func NewProvider(cfg *oauth2.Config) *Provider {
	return &Provider{cfg: cfg}
}

// SignIn performs a password grant and makes the result the current principal.
func (p *Provider) SignIn(ctx context.Context, username, password string) (identity.Principal, error) {
	tok, err := p.cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	pr := &principal{cfg: p.cfg, token: tok}
	p.mu.Lock()
	p.current = pr
	p.mu.Unlock()
	return pr, nil
}

// Resume restores a principal from a refresh token saved by a previous run.
func (p *Provider) Resume(_ context.Context, key string) error {
	if key == "" {
		return identity.ErrUnknownPrincipal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &principal{cfg: p.cfg, token: &oauth2.Token{RefreshToken: key}}
	return nil
}

// SignOut forgets the current principal.
func (p *Provider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

// CurrentPrincipal returns the signed-in principal or nil.
func (p *Provider) CurrentPrincipal(context.Context) (identity.Principal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil, nil
	}
	return p.current, nil
}

type principal struct {
	cfg *oauth2.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// Key is the refresh token; it changes when the endpoint rotates it.
func (pr *principal) Key() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.token.RefreshToken
}

func (pr *principal) IssueToken(ctx context.Context, forceRefresh bool) (identity.Token, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	seed := pr.token
	if forceRefresh {
		// Without an access token the source always goes to the endpoint.
		seed = &oauth2.Token{RefreshToken: pr.token.RefreshToken}
	}

	tok, err := pr.cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		return identity.Token{}, fmt.Errorf("refresh grant: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = pr.token.RefreshToken
	}
	pr.token = tok

	value := tok.AccessToken
	// Identity services that issue ID tokens expect those on API calls.
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		value = id
	}

	out := identity.Token{Value: value, ExpiresAt: tok.Expiry}
	if claims, parsed, err := identity.ClaimsFromToken(value); err == nil {
		out.UID = claims.UID
		out.Email = claims.Email
		if out.ExpiresAt.IsZero() {
			out.ExpiresAt = parsed.ExpiresAt
		}
	}
	return out, nil
}

var (
	_ identity.Provider = (*Provider)(nil)
	_ identity.Resumer  = (*Provider)(nil)
)
