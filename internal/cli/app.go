package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/auth"
	"github.com/vovakirdan/agencyctl/internal/client"
	"github.com/vovakirdan/agencyctl/internal/config"
	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/identity"
	"github.com/vovakirdan/agencyctl/internal/identity/local"
	"github.com/vovakirdan/agencyctl/internal/identity/oauth"
	"github.com/vovakirdan/agencyctl/internal/store/sqlite"
)

// signer is an identity provider the CLI can sign in with.
type signer interface {
	identity.Provider
	identity.Resumer
	SignIn(ctx context.Context, user, password string) (identity.Principal, error)
	SignOut()
}

// App holds the components one CLI invocation works with.
type App struct {
	cfg config.Config
	log *zerolog.Logger

	persist  *sqlite.SQLiteStore
	creds    *credential.Store
	provider signer
	accounts *local.Provider // nil unless identity mode is local
	auth     *auth.Manager
	api      *api.API

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewApp opens the credential database and restores the previous session.
func NewApp(ctx context.Context, cfg config.Config, logger *zerolog.Logger, in io.Reader, out, errOut io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	persist, err := sqlite.New(cfg.CredentialsDB)
	if err != nil {
		return nil, fmt.Errorf("open credentials db: %w", err)
	}

	creds, err := credential.Open(ctx, persist, cfg.Profile, logger)
	if err != nil {
		_ = persist.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     logger,
		persist: persist,
		creds:   creds,
		in:      in,
		out:     out,
		errOut:  errOut,
	}

	switch cfg.Identity.Mode {
	case config.IdentityLocal:
		accounts, err := local.LoadAccounts(cfg.Identity.AccountsFile)
		if err != nil {
			_ = persist.Close()
			return nil, err
		}
		a.accounts = local.NewProvider(&local.JWTConfig{
			Secret:   []byte(cfg.Identity.Secret),
			Issuer:   cfg.Identity.Issuer,
			Audience: cfg.Identity.Audience,
			TTL:      cfg.Identity.TokenTTL,
		}, accounts...)
		a.provider = a.accounts
	case config.IdentityOAuth:
		a.provider = oauth.NewProvider(&oauth2.Config{
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.Identity.TokenURL},
		})
	default:
		_ = persist.Close()
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}

	if key := creds.Get().PrincipalKey; key != "" {
		if err := a.provider.Resume(ctx, key); err != nil {
			logger.Warn().Err(err).Str("profile", cfg.Profile).Msg("could not resume previous session")
		}
	}

	a.auth = auth.NewManager(creds, a.provider, auth.WithLifetime(cfg.TokenLifetime), auth.WithLogger(logger))
	a.api = api.New(client.New(a.auth, creds, client.WithBaseURL(cfg.APIURL), client.WithLogger(logger)))
	return a, nil
}

// Close releases the credential database.
func (a *App) Close() error {
	return a.persist.Close()
}
