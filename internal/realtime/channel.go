// Package realtime streams conversation frames for one session over a WebSocket,
// re-validating the credential while the socket is open.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/auth"
	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/log"
	"github.com/vovakirdan/agencyctl/internal/proto"
)

// DefaultRevalidateInterval is how often an open channel checks its credential.
const DefaultRevalidateInterval = time.Minute

// InvalidFrameMessage is reported for frames that are not JSON.
const InvalidFrameMessage = "Invalid message from server."

var (
	// ErrAuthExpired ends a channel whose credential could not be re-validated.
	ErrAuthExpired = errors.New("realtime: authentication expired")
	// ErrNotOpen is returned by Send outside the Open state.
	ErrNotOpen = errors.New("realtime: channel is not open")
)

// State is the lifecycle stage of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Channel. URL, Validator and Creds are required.
type Options struct {
	URL       string
	Validator auth.Validator
	Creds     credential.Reader

	// OnMessage receives every inbound JSON frame in arrival order.
	OnMessage func(json.RawMessage)
	// OnError receives failures as {status:false, message} envelopes.
	OnError func(envelope.Raw)

	RevalidateInterval time.Duration
	// ValidateOnOpen runs EnsureValid before dialing so the auth frame never
	// carries a token already known to be stale.
	ValidateOnOpen bool

	DialOptions *websocket.DialOptions
	Logger      *zerolog.Logger
}

// Channel is one realtime connection. It never reconnects by itself.
type Channel struct {
	opts Options
	log  *zerolog.Logger

	state    atomic.Int32
	openedAt atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

// Address builds the socket address for a session. The scheme is ws when host
// contains "localhost" and wss otherwise; a host given with an explicit ws:// or
// wss:// prefix keeps its scheme.
func Address(host, userID, workflowID, sessionID string) string {
	scheme := "wss"
	switch {
	case strings.HasPrefix(host, "ws://"):
		scheme, host = "ws", strings.TrimPrefix(host, "ws://")
	case strings.HasPrefix(host, "wss://"):
		host = strings.TrimPrefix(host, "wss://")
	case strings.Contains(host, "localhost"):
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws/%s/%s/%s", scheme, strings.TrimRight(host, "/"),
		url.PathEscape(userID), url.PathEscape(workflowID), url.PathEscape(sessionID))
}

// Open starts connecting and returns immediately in the Connecting state.
// Cancelling ctx has the same effect as Close. An empty URL panics.
func Open(ctx context.Context, opts Options) *Channel {
	if opts.URL == "" {
		panic("realtime: empty channel url")
	}
	if opts.RevalidateInterval <= 0 {
		opts.RevalidateInterval = DefaultRevalidateInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		opts:   opts,
		log:    log.OrNop(opts.Logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	go c.run(ctx)
	return c
}

// State returns the current lifecycle stage.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports why a closed channel ended: nil after Close or a clean close by
// the server, ErrAuthExpired after a failed re-validation, otherwise the
// transport error.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the channel down without invoking OnError. It is safe to call
// more than once and from inside handlers; wait on Done for completion.
func (c *Channel) Close() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	c.cancel()
}

// Send writes a user_message frame for sessionID.
func (c *Channel) Send(ctx context.Context, sessionID, content string) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	msg := proto.NewUserMessage(sessionID, content, c.opts.Creds.Get().AccessToken)
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("send user message: %w", err)
	}
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.state.Store(int32(StateClosed))

	if c.opts.ValidateOnOpen && !c.opts.Validator.EnsureValid(ctx) {
		if ctx.Err() == nil {
			c.fail(ErrAuthExpired, envelope.Reauth())
		}
		return
	}

	conn, _, err := websocket.Dial(ctx, c.opts.URL, c.opts.DialOptions)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(err, transportFailure(err))
		}
		return
	}
	defer conn.CloseNow()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	token := c.opts.Creds.Get().AccessToken
	if err := wsjson.Write(ctx, conn, proto.NewAuthFrame(token)); err != nil {
		if ctx.Err() == nil {
			c.fail(err, transportFailure(err))
		}
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		conn.Close(websocket.StatusNormalClosure, "closing")
		return
	}
	c.openedAt.Store(time.Now().UnixNano())
	c.log.Debug().Str("url", c.opts.URL).Str("state", StateOpen.String()).Msg("realtime channel open")

	loopCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 2)
	go func() {
		errCh <- c.readLoop(loopCtx, conn)
	}()
	go func() {
		errCh <- c.revalidateLoop(loopCtx)
	}()

	err = <-errCh
	c.state.Store(int32(StateClosing))

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, ErrAuthExpired):
		c.fail(err, envelope.Reauth())
		status, reason = websocket.StatusPolicyViolation, "authentication expired"
	case ctx.Err() != nil:
		// Closed by the caller.
	case isCleanClose(err):
		c.log.Debug().Str("url", c.opts.URL).Msg("realtime channel closed by server")
	default:
		c.fail(err, transportFailure(err))
		status, reason = websocket.StatusInternalError, "transport error"
	}

	stop()
	<-errCh
	conn.Close(status, reason)
	c.log.Debug().Str("url", c.opts.URL).Str("state", StateClosed.String()).Msg("realtime channel closed")
}

// uptime is how long the channel stayed open, zero if it never opened.
func (c *Channel) uptime() time.Duration {
	opened := c.openedAt.Load()
	if opened == 0 {
		return 0
	}
	return time.Since(time.Unix(0, opened))
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			c.log.Warn().Int("bytes", len(data)).Msg("skip non-json realtime frame")
			c.report(envelope.Failure(InvalidFrameMessage))
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(json.RawMessage(data))
		}
	}
}

func (c *Channel) revalidateLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.RevalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.opts.Validator.EnsureValid(ctx) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrAuthExpired
		}
	}
}

// fail records the terminal error and reports it. Only the first call has effect.
func (c *Channel) fail(err error, env envelope.Raw) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("url", c.opts.URL).Msg("realtime channel failed")
	c.report(env)
}

func (c *Channel) report(env envelope.Raw) {
	if c.opts.OnError != nil {
		c.opts.OnError(env)
	}
}

func transportFailure(err error) envelope.Raw {
	return envelope.Failure(fmt.Sprintf("WebSocket error: %v", err))
}

func isCleanClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
