package http

import (
	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/proto"
)

func statusFrame(sessionID, status string) proto.Outbound {
	return proto.Outbound{
		Type: proto.TypeAgentStatus,
		Data: proto.AgentStatusData{Status: status, SessionID: sessionID},
	}
}

// replyFrames renders an agent reply as the message stream followed by the final response.
func replyFrames(reply devserver.Reply) []any {
	msg := reply.Message
	return []any{
		proto.Outbound{
			Type: proto.TypeAgentMessage,
			Data: proto.AgentData{
				Sender:    reply.Sender,
				Recipient: "user",
				Message:   msg.Content,
				SessionID: msg.SessionID,
			},
		},
		proto.Outbound{
			Type: proto.TypeAgentResponse,
			Data: proto.AgentData{
				Sender:    reply.Sender,
				Content:   msg.Content,
				SessionID: msg.SessionID,
			},
		},
		statusFrame(msg.SessionID, "idle"),
	}
}

func errorFrame(message string) envelope.Raw {
	return envelope.Failure(message)
}
