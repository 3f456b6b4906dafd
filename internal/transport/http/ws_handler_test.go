package http

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/proto"
)

func seedSession(t *testing.T, env *testEnv) (agencyID, sessionID string) {
	t.Helper()
	agency, err := env.backend.SaveAgency(testUID, api.Agency{Name: "support", MainAgent: "CEO"})
	if err != nil {
		t.Fatalf("save agency: %v", err)
	}
	session, err := env.backend.CreateSession(testUID, agency.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return agency.ID, session.SessionID
}

func dial(t *testing.T, ctx context.Context, env *testEnv, agencyID, sessionID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/" + testUID + "/" + agencyID + "/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Inbound {
	t.Helper()
	var raw json.RawMessage
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	in, err := proto.Decode(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return in
}

func TestWebSocketConversation(t *testing.T) {
	env := newTestEnv(t, 0)
	agencyID, sessionID := seedSession(t, env)
	tok := env.token(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env, agencyID, sessionID)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := wsjson.Write(ctx, conn, proto.NewAuthFrame(tok)); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.NewUserMessage(sessionID, "hello", tok)); err != nil {
		t.Fatalf("write message: %v", err)
	}

	wantTypes := []string{proto.TypeAgentStatus, proto.TypeAgentMessage, proto.TypeAgentResponse, proto.TypeAgentStatus}
	var frames []proto.Inbound
	for range wantTypes {
		frames = append(frames, readFrame(t, ctx, conn))
	}
	for i, f := range frames {
		if f.Type != wantTypes[i] {
			t.Fatalf("frame %d: got type %q, want %q", i, f.Type, wantTypes[i])
		}
	}

	var agent proto.AgentData
	if err := json.Unmarshal(frames[1].Data, &agent); err != nil {
		t.Fatalf("decode agent data: %v", err)
	}
	if agent.Sender != "CEO" || agent.Message != "Received: hello" || agent.SessionID != sessionID {
		t.Fatalf("unexpected agent message %+v", agent)
	}

	msgs, err := env.backend.Messages(testUID, sessionID, "")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected stored messages %+v", msgs)
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, 0)
	agencyID, sessionID := seedSession(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env, agencyID, sessionID)
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, proto.NewAuthFrame("garbage")); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	frame := readFrame(t, ctx, conn)
	if frame.Status == nil || *frame.Status || frame.Message != "Invalid token" {
		t.Fatalf("unexpected rejection frame %+v", frame)
	}

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	env := newTestEnv(t, 0)
	_, sessionID := seedSession(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env, "other-agency", sessionID)
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, proto.NewAuthFrame(env.token(t))); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	frame := readFrame(t, ctx, conn)
	if frame.Message != "Session not found" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, 1)
	agencyID, sessionID := seedSession(t, env)
	tok := env.token(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env, agencyID, sessionID)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_ = wsjson.Write(ctx, conn, proto.NewAuthFrame(tok))
	_ = wsjson.Write(ctx, conn, proto.NewUserMessage(sessionID, "one", tok))
	_ = wsjson.Write(ctx, conn, proto.NewUserMessage(sessionID, "two", tok))

	// Four frames answer the first message.
	for i := 0; i < 4; i++ {
		readFrame(t, ctx, conn)
	}
	frame := readFrame(t, ctx, conn)
	if proto.Kind(mustMarshal(t, frame)) != proto.TypeError || frame.Message != "Too many messages" {
		t.Fatalf("expected rate limit error, got %+v", frame)
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
