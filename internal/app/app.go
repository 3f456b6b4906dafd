package app

import (
	"context"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/config"
	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/identity/local"
	transporthttp "github.com/vovakirdan/agencyctl/internal/transport/http"
)

// App runs the development backend.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the development backend from configuration. Accounts are read
// from the identity accounts file so the CLI and the backend share them.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	accounts, err := local.LoadAccounts(cfg.Identity.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	jwtConfig := &local.JWTConfig{
		Secret:   []byte(cfg.Identity.Secret),
		Issuer:   cfg.Identity.Issuer,
		Audience: cfg.Identity.Audience,
		TTL:      cfg.Identity.TokenTTL,
	}
	provider := local.NewProvider(jwtConfig, accounts...)
	backend := devserver.NewBackend()

	logger.Info().
		Int("accounts", len(accounts)).
		Str("accounts_file", cfg.Identity.AccountsFile).
		Msg("development backend initialized")

	return &App{
		server:          transporthttp.NewServer(backend, provider, cfg.Server, logger),
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, e.g. for httptest.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)

	a.log.Info().Str("addr", ln.Addr().String()).Msg("starting development backend")
	go func() {
		if err := a.server.Serve(ln); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
