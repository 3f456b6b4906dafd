package proto

import "encoding/json"

// Frame type tags.
const (
	TypeAuth        = "auth"
	TypeUserMessage = "user_message"

	TypeAgentStatus   = "agent_status"
	TypeAgentMessage  = "agent_message"
	TypeAgentResponse = "agent_response"
	TypeError         = "error"
)

// AuthFrame is the first frame a client sends after the socket opens.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewAuthFrame builds the auth frame for token.
func NewAuthFrame(token string) AuthFrame {
	return AuthFrame{Type: TypeAuth, Token: token}
}

// UserMessageData is the payload of a user_message frame.
type UserMessageData struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// UserMessage carries one message typed by the user. The backend expects the access
// token on every message as well as in the auth frame.
type UserMessage struct {
	Type        string          `json:"type"`
	Data        UserMessageData `json:"data"`
	AccessToken string          `json:"access_token"`
}

// NewUserMessage builds a user_message frame.
func NewUserMessage(sessionID, content, token string) UserMessage {
	return UserMessage{
		Type:        TypeUserMessage,
		Data:        UserMessageData{Content: content, SessionID: sessionID},
		AccessToken: token,
	}
}

// Inbound is the common shape of frames pushed by the backend. Error frames carry
// status=false and a message instead of a type.
type Inbound struct {
	Type    string          `json:"type,omitempty"`
	Status  *bool           `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AgentData is the payload of agent_message and agent_response frames.
type AgentData struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Kind reports the frame type, TypeError for {status:false} frames, or "" when the
// frame is not a JSON object.
func Kind(raw json.RawMessage) string {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return ""
	}
	if in.Status != nil && !*in.Status {
		return TypeError
	}
	return in.Type
}

// Decode unmarshals a frame into Inbound.
func Decode(raw json.RawMessage) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(raw, &in)
	return in, err
}

// Outbound is a frame pushed by the backend.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// AgentStatusData is the payload of agent_status frames.
type AgentStatusData struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}
