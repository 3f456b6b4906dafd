package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/proto"
)

const authFrameTimeout = 10 * time.Second

// WSHandler serves realtime conversations at /ws/:user_id/:workflow_id/:session_id.
type WSHandler struct {
	backend   *devserver.Backend
	tokens    TokenValidator
	rateLimit int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(backend *devserver.Backend, tokens TokenValidator, rateLimit int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{backend: backend, tokens: tokens, rateLimit: rateLimit, log: logger}
}

type conversation struct {
	userID    string
	sessionID string
	out       chan any
	limiter   *rateLimiter
}

// Handle upgrades the request. The first frame must authenticate the path's user
// and the session must belong to the path's workflow.
func (h *WSHandler) Handle(c *gin.Context) {
	userID := c.Param("user_id")
	workflowID := c.Param("workflow_id")
	sessionID := c.Param("session_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if msg := h.authenticate(ctx, conn, userID, workflowID, sessionID); msg != "" {
		h.log.Debug().Str("user_id", userID).Str("session_id", sessionID).Str("reason", msg).Msg("ws rejected")
		_ = wsjson.Write(ctx, conn, errorFrame(msg))
		conn.Close(websocket.StatusPolicyViolation, msg)
		return
	}

	conv := &conversation{
		userID:    userID,
		sessionID: sessionID,
		out:       make(chan any, 8),
		limiter:   newRateLimiter(h.rateLimit, time.Minute),
	}
	stop := make(chan struct{})
	defer close(stop)
	conv.limiter.startReset(stop)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, conv)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, conv)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("session_id", sessionID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate returns a rejection message, or "" when the connection may proceed.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn, userID, workflowID, sessionID string) string {
	authCtx, cancel := context.WithTimeout(ctx, authFrameTimeout)
	defer cancel()

	var frame proto.AuthFrame
	if err := wsjson.Read(authCtx, conn, &frame); err != nil || frame.Type != proto.TypeAuth {
		return "Authentication required"
	}
	claims, err := h.tokens.Validate(frame.Token)
	if err != nil || claims.UID != userID {
		return "Invalid token"
	}
	if _, err := h.backend.Session(userID, workflowID, sessionID); err != nil {
		return "Session not found"
	}
	return ""
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, conv *conversation) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg proto.UserMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != proto.TypeUserMessage {
			if !h.push(ctx, conv, errorFrame("Unsupported message")) {
				return ctx.Err()
			}
			continue
		}
		if _, err := h.tokens.Validate(msg.AccessToken); err != nil {
			if !h.push(ctx, conv, errorFrame("Invalid token")) {
				return ctx.Err()
			}
			continue
		}
		if !conv.limiter.allow() {
			if !h.push(ctx, conv, errorFrame("Too many messages")) {
				return ctx.Err()
			}
			continue
		}

		if !h.push(ctx, conv, statusFrame(conv.sessionID, "running")) {
			return ctx.Err()
		}
		reply, err := h.backend.Converse(conv.userID, conv.sessionID, msg.Data.Content)
		if err != nil {
			if !h.push(ctx, conv, errorFrame(err.Error())) {
				return ctx.Err()
			}
			continue
		}
		for _, frame := range replyFrames(reply) {
			if !h.push(ctx, conv, frame) {
				return ctx.Err()
			}
		}
	}
}

func (h *WSHandler) push(ctx context.Context, conv *conversation, frame any) bool {
	select {
	case conv.out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, conv *conversation) error {
	for {
		select {
		case frame := <-conv.out:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				h.log.Error().Err(err).Str("session_id", conv.sessionID).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
