package proto

import (
	"encoding/json"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"agent_status","data":{"status":"thinking"}}`, TypeAgentStatus},
		{`{"type":"agent_message","data":{"sender":"CEO","message":"hi"}}`, TypeAgentMessage},
		{`{"type":"agent_response","data":{"message":"done"}}`, TypeAgentResponse},
		{`{"status":false,"message":"Session not found"}`, TypeError},
		{`{"status":true,"type":"agent_message"}`, TypeAgentMessage},
		{`[1,2,3]`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := Kind(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("Kind(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestUserMessageWireShape(t *testing.T) {
	b, err := json.Marshal(NewUserMessage("s1", "hello", "tok"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"user_message","data":{"content":"hello","session_id":"s1"},"access_token":"tok"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}

	b, err = json.Marshal(NewAuthFrame("tok"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"auth","token":"tok"}` {
		t.Fatalf("unexpected auth frame %s", b)
	}
}
