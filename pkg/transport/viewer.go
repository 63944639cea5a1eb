package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/relaytext/session-broker/pkg/broker"
)

// ViewerSource is the capability the viewer transport needs: look up an
// already-streaming session's broadcaster to attach/detach against.
type ViewerSource interface {
	AttachViewer(sessionID string, v broker.ViewerHandle) error
	DetachViewer(sessionID string, v broker.ViewerHandle)
}

// wsViewerHandle adapts one accepted viewer WebSocket connection to
// broker.ViewerHandle.
type wsViewerHandle struct {
	id   string
	ctx  context.Context
	conn *websocket.Conn
}

func (h *wsViewerHandle) ID() string { return h.id }

func (h *wsViewerHandle) Send(r broker.Record) error {
	return wsjson.Write(h.ctx, h.conn, r)
}

// ViewerHandler accepts viewer WebSocket connections, attaches them to the
// named session's broadcaster, and keeps the connection open until the
// client disconnects. Inbound viewer messages are accepted but ignored, per
// the wire contract reserving them for future subscription control.
type ViewerHandler struct {
	sessions ViewerSource
	log      broker.Logger
}

func NewViewerHandler(sessions ViewerSource, log broker.Logger) *ViewerHandler {
	if log == nil {
		log = broker.NoOpLogger{}
	}
	return &ViewerHandler{sessions: sessions, log: log}
}

func (h *ViewerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &wsViewerHandle{id: uuid.New().String(), ctx: ctx, conn: conn}

	if err := h.sessions.AttachViewer(sessionID, v); err != nil {
		h.log.Warn("viewer: attach failed", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "no such session")
		return
	}
	defer h.sessions.DetachViewer(sessionID, v)

	// Drain and discard inbound messages until the client disconnects; the
	// wire contract reserves them for future subscription control.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
