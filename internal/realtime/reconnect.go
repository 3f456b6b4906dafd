package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/log"
)

// Reconnector keeps a session's channel open across transport failures. It stops
// when the credential expires, when the server closes cleanly, or when the
// backoff gives up.
type Reconnector struct {
	opts        Options
	newBackoff  func() backoff.BackOff
	onOpen      func(*Channel)
	stableAfter time.Duration
	log         *zerolog.Logger
}

// ReconnectOption configures a Reconnector.
type ReconnectOption func(*Reconnector)

// WithBackoff sets the retry policy. A fresh policy is built for each Run.
func WithBackoff(fn func() backoff.BackOff) ReconnectOption {
	return func(r *Reconnector) {
		if fn != nil {
			r.newBackoff = fn
		}
	}
}

// WithOnOpen is called with every channel the reconnector opens, e.g. to keep a
// handle for Send.
func WithOnOpen(fn func(*Channel)) ReconnectOption {
	return func(r *Reconnector) {
		r.onOpen = fn
	}
}

// WithStableAfter sets how long a channel must stay open before the retry
// policy starts over.
func WithStableAfter(d time.Duration) ReconnectOption {
	return func(r *Reconnector) {
		r.stableAfter = d
	}
}

// NewReconnector creates a reconnector that opens channels with opts.
func NewReconnector(opts Options, options ...ReconnectOption) *Reconnector {
	r := &Reconnector{
		opts:        opts,
		newBackoff:  DefaultBackoff,
		stableAfter: 30 * time.Second,
		log:         log.OrNop(opts.Logger),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// DefaultBackoff retries from 500ms up to 30s between attempts for at most 5 minutes.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute
	return b
}

// Run blocks until the session ends. It returns nil after a clean server close,
// ErrAuthExpired when the credential could not be re-validated, ctx.Err() on
// cancellation, and the last transport error once retries are exhausted.
func (r *Reconnector) Run(ctx context.Context) error {
	b := backoff.WithContext(r.newBackoff(), ctx)
	b.Reset()

	for attempt := 1; ; attempt++ {
		ch := Open(ctx, r.opts)
		if r.onOpen != nil {
			r.onOpen(ch)
		}

		select {
		case <-ch.Done():
		case <-ctx.Done():
			ch.Close()
			<-ch.Done()
			return ctx.Err()
		}

		err := ch.Err()
		switch {
		case err == nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		case errors.Is(err, ErrAuthExpired):
			return err
		}

		if ch.uptime() >= r.stableAfter {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("realtime: giving up after %d attempts: %w", attempt, err)
		}
		r.log.Info().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("realtime reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
