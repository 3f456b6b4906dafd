// Package local is a self-contained identity provider: bcrypt-hashed accounts
// and HS256 tokens. The development backend validates the same tokens.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/agencyctl/internal/identity"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is returned when trying to register an existing email.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidEmail is returned when the email cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// bcryptCost is the cost used for account password hashes.
const bcryptCost = 10

// Account is a locally known principal.
type Account struct {
	UID          string `yaml:"uid"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// Provider implements identity.Provider over an in-memory account table.
type Provider struct {
	mu       sync.RWMutex
	jwt      *JWTConfig
	accounts map[string]Account
	current  *principal
	now      func() time.Time
}

// NewProvider creates a provider issuing tokens with cfg.
func NewProvider(cfg *JWTConfig, accounts ...Account) *Provider {
	p := &Provider{
		jwt:      cfg,
		accounts: make(map[string]Account, len(accounts)),
		now:      time.Now,
	}
	for _, a := range accounts {
		p.accounts[normalizeEmail(a.Email)] = a
	}
	return p
}

// SetClock replaces the time source used for token timestamps.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Register creates a new account with a hashed password.
func (p *Provider) Register(_ context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return Account{}, ErrInvalidEmail
	}
	if len(password) < 6 {
		return Account{}, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[email]; ok {
		return Account{}, ErrAccountExists
	}
	acc := Account{UID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
	p.accounts[email] = acc
	return acc, nil
}

// Accounts returns a snapshot of known accounts.
func (p *Provider) Accounts() []Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a)
	}
	return out
}

// SignIn checks the password and makes the account the current principal.
func (p *Provider) SignIn(_ context.Context, email, password string) (identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p.current = &principal{provider: p, account: acc}
	return p.current, nil
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

// Resume restores the principal for an account email saved by a previous run.
func (p *Provider) Resume(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[normalizeEmail(key)]
	if !ok {
		return identity.ErrUnknownPrincipal
	}
	p.current = &principal{provider: p, account: acc}
	return nil
}

// Validate verifies a token issued by this provider.
func (p *Provider) Validate(token string) (*Claims, error) {
	return ValidateToken(p.jwt, token)
}

func (p *Provider) clock() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now()
}

type principal struct {
	provider *Provider
	account  Account

	mu        sync.Mutex
	cached    string
	cachedExp time.Time
}

func (pr *principal) Key() string {
	return pr.account.Email
}

// IssueToken returns the cached token unless it expired or a refresh is forced.
func (pr *principal) IssueToken(ctx context.Context, forceRefresh bool) (identity.Token, error) {
	if err := ctx.Err(); err != nil {
		return identity.Token{}, err
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	now := pr.provider.clock()
	if !forceRefresh && pr.cached != "" && now.Before(pr.cachedExp) {
		return pr.token(), nil
	}

	raw, err := GenerateToken(pr.provider.jwt, pr.account.UID, pr.account.Email, now)
	if err != nil {
		return identity.Token{}, fmt.Errorf("generate token: %w", err)
	}
	pr.cached = raw
	pr.cachedExp = now.Add(pr.provider.jwt.TTL)
	return pr.token(), nil
}

func (pr *principal) token() identity.Token {
	return identity.Token{
		Value:     pr.cached,
		Email:     pr.account.Email,
		UID:       pr.account.UID,
		ExpiresAt: pr.cachedExp,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ identity.Provider = (*Provider)(nil)
	_ identity.Resumer  = (*Provider)(nil)
)
