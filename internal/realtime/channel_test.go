package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/proto"
)

type flagValidator struct {
	ok    atomic.Bool
	calls atomic.Int32
}

func newFlagValidator(ok bool) *flagValidator {
	v := &flagValidator{}
	v.ok.Store(ok)
	return v
}

func (v *flagValidator) EnsureValid(context.Context) bool {
	v.calls.Add(1)
	return v.ok.Load()
}

type recorder struct {
	mu       sync.Mutex
	messages []json.RawMessage
	errors   []envelope.Raw
}

func (r *recorder) onMessage(m json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) onError(e envelope.Raw) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recorder) snapshot() ([]json.RawMessage, []envelope.Raw) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]json.RawMessage(nil), r.messages...), append([]envelope.Raw(nil), r.errors...)
}

func newWSServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handle(r.Context(), conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/u1/w1/s1"
}

// drain reads until the peer goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func validStore(token string) *credential.Store {
	s := credential.NewStore()
	s.Set(token, time.Now().Add(time.Hour))
	return s
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("channel did not close, state %s", ch.State())
	}
}

func TestAddress(t *testing.T) {
	require.Equal(t, "ws://localhost:8080/ws/u1/w1/s1", Address("localhost:8080", "u1", "w1", "s1"))
	require.Equal(t, "wss://agency.example.com/ws/u1/w%201/s1", Address("agency.example.com", "u1", "w 1", "s1"))
	require.Equal(t, "ws://127.0.0.1:9000/ws/u/w/s", Address("ws://127.0.0.1:9000", "u", "w", "s"))
	require.Equal(t, "wss://10.0.0.1/ws/u/w/s", Address("wss://10.0.0.1/", "u", "w", "s"))
}

func TestOpenSendsAuthFrameAndDeliversInOrder(t *testing.T) {
	authCh := make(chan proto.AuthFrame, 1)
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		var auth proto.AuthFrame
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		authCh <- auth
		for i := 1; i <= 3; i++ {
			if err := wsjson.Write(ctx, conn, map[string]any{"type": "agent_message", "seq": i}); err != nil {
				return
			}
		}
		drain(ctx, conn)
	})

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:       wsURL(ts),
		Validator: newFlagValidator(true),
		Creds:     validStore("tok-1"),
		OnMessage: rec.onMessage,
		OnError:   rec.onError,
	})
	defer ch.Close()

	select {
	case auth := <-authCh:
		require.Equal(t, proto.NewAuthFrame("tok-1"), auth)
	case <-time.After(5 * time.Second):
		t.Fatal("no auth frame received")
	}

	require.Eventually(t, func() bool {
		msgs, _ := rec.snapshot()
		return len(msgs) == 3
	}, 5*time.Second, 10*time.Millisecond)

	msgs, errs := rec.snapshot()
	for i, m := range msgs {
		var frame struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(m, &frame))
		require.Equal(t, i+1, frame.Seq)
	}
	require.Empty(t, errs)
	require.Equal(t, StateOpen, ch.State())
}

func TestRevalidationFailureClosesWithSingleError(t *testing.T) {
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	v := newFlagValidator(true)
	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:                wsURL(ts),
		Validator:          v,
		Creds:              validStore("tok"),
		OnMessage:          rec.onMessage,
		OnError:            rec.onError,
		RevalidateInterval: 20 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return v.calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
	v.ok.Store(false)

	waitDone(t, ch)
	time.Sleep(60 * time.Millisecond)

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	require.Equal(t, envelope.Reauth(), errs[0])
	require.ErrorIs(t, ch.Err(), ErrAuthExpired)
	require.Equal(t, StateClosed, ch.State())
}

func TestTransportErrorReportedOnce(t *testing.T) {
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		var auth proto.AuthFrame
		_ = wsjson.Read(ctx, conn, &auth)
		conn.CloseNow()
	})

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:       wsURL(ts),
		Validator: newFlagValidator(true),
		Creds:     validStore("tok"),
		OnError:   rec.onError,
	})

	waitDone(t, ch)

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	require.False(t, errs[0].Status)
	require.True(t, strings.HasPrefix(errs[0].Message, "WebSocket error: "), errs[0].Message)
	require.Error(t, ch.Err())
}

func TestDialFailureReported(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(ts)
	ts.Close()

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:       url,
		Validator: newFlagValidator(true),
		Creds:     validStore("tok"),
		OnError:   rec.onError,
	})

	waitDone(t, ch)
	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, "WebSocket error: ")
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:       wsURL(ts),
		Validator: newFlagValidator(true),
		Creds:     validStore("tok"),
		OnError:   rec.onError,
	})
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)

	ch.Close()
	ch.Close()
	waitDone(t, ch)
	ch.Close()

	_, errs := rec.snapshot()
	require.Empty(t, errs)
	require.NoError(t, ch.Err())
	require.Equal(t, StateClosed, ch.State())
	require.ErrorIs(t, ch.Send(context.Background(), "s1", "hi"), ErrNotOpen)
}

func TestValidateOnOpenSkipsDial(t *testing.T) {
	var dials atomic.Int32
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		dials.Add(1)
		drain(ctx, conn)
	})

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:            wsURL(ts),
		Validator:      newFlagValidator(false),
		Creds:          credential.NewStore(),
		OnError:        rec.onError,
		ValidateOnOpen: true,
	})

	waitDone(t, ch)
	_, errs := rec.snapshot()
	require.Equal(t, []envelope.Raw{envelope.Reauth()}, errs)
	require.EqualValues(t, 0, dials.Load())
}

func TestSendWritesUserMessage(t *testing.T) {
	got := make(chan proto.UserMessage, 1)
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		var auth proto.AuthFrame
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		var msg proto.UserMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		got <- msg
		drain(ctx, conn)
	})

	ch := Open(context.Background(), Options{
		URL:       wsURL(ts),
		Validator: newFlagValidator(true),
		Creds:     validStore("tok"),
	})
	defer ch.Close()
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Send(context.Background(), "s1", "hello"))
	select {
	case msg := <-got:
		require.Equal(t, proto.NewUserMessage("s1", "hello", "tok"), msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no user message received")
	}
}

func TestNonJSONFrameSkipped(t *testing.T) {
	ts := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		var auth proto.AuthFrame
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("not json"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"agent_status"}`))
		drain(ctx, conn)
	})

	rec := &recorder{}
	ch := Open(context.Background(), Options{
		URL:       wsURL(ts),
		Validator: newFlagValidator(true),
		Creds:     validStore("tok"),
		OnMessage: rec.onMessage,
		OnError:   rec.onError,
	})
	defer ch.Close()

	require.Eventually(t, func() bool {
		msgs, _ := rec.snapshot()
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, errs := rec.snapshot()
	require.Equal(t, []envelope.Raw{envelope.Failure(InvalidFrameMessage)}, errs)
	require.Equal(t, StateOpen, ch.State())
}

func TestOpenPanicsOnEmptyURL(t *testing.T) {
	require.Panics(t, func() { Open(context.Background(), Options{}) })
}
