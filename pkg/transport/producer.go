package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/relaytext/session-broker/pkg/broker"
)

// producerFrameWire is the wire shape of one inbound producer message.
type producerFrameWire struct {
	UserName string `json:"userName"`
	Audio    string `json:"audio"`
}

// SessionSource builds a fresh Orchestrator for a newly accepted producer
// connection and must be told when that connection's session ends.
type SessionSource interface {
	NewSession(sessionID, integration string) *broker.Orchestrator
	EndSession(sessionID string)
}

// ProducerHandler accepts producer WebSocket connections, authenticates
// them, and drives the resulting Orchestrator for the connection's
// lifetime.
type ProducerHandler struct {
	validator   TokenValidator
	sessions    SessionSource
	integration string
	log         broker.Logger
}

// NewProducerHandler builds a ProducerHandler. integration names the
// producer family this endpoint serves (used only to namespace artifacts).
func NewProducerHandler(validator TokenValidator, sessions SessionSource, integration string, log broker.Logger) *ProducerHandler {
	if log == nil {
		log = broker.NoOpLogger{}
	}
	return &ProducerHandler{validator: validator, sessions: sessions, integration: integration, log: log}
}

func (h *ProducerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	sessionID := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	claims, err := h.validator.Validate(token)
	if err != nil || claims.SessionID == "" || claims.SessionID != sessionID {
		h.log.Warn("producer: rejected token", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "invalid or mismatched token")
		return
	}

	orch := h.sessions.NewSession(sessionID, h.integration)
	defer h.sessions.EndSession(sessionID)

	frames := make(chan broker.ProducerFrame)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(ctx, conn, sessionID, frames)

	if err := orch.Run(ctx, frames); err != nil {
		h.log.Warn("producer session ended with error", "session_id", sessionID, "error", err)
		h.closeWithReason(conn, err)
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *ProducerHandler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, frames chan<- broker.ProducerFrame) {
	defer close(frames)
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var wire producerFrameWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			h.log.Debug("producer: dropped malformed message", "session_id", sessionID, "error", err)
			continue
		}

		audio, err := base64.StdEncoding.DecodeString(wire.Audio)
		if err != nil {
			h.log.Debug("producer: dropped frame with bad audio encoding", "session_id", sessionID, "error", err)
			continue
		}

		select {
		case frames <- broker.ProducerFrame{UserName: wire.UserName, Audio: audio}:
		case <-ctx.Done():
			return
		}
	}
}

func (h *ProducerHandler) closeWithReason(conn *websocket.Conn, err error) {
	switch err {
	case broker.ErrProducerAlreadyActive:
		conn.Close(websocket.StatusPolicyViolation, "session already active")
	default:
		conn.Close(websocket.StatusInternalError, "session ended with an error")
	}
}
