package transport

import (
	"encoding/json"
	"net/http"

	"github.com/relaytext/session-broker/pkg/broker"
)

// sessionSummary is the JSON shape of one entry in the sessions listing.
type sessionSummary struct {
	SessionID   string `json:"session_id"`
	Integration string `json:"integration"`
	StartedAt   int64  `json:"started_at"`
}

// SessionsHandler serves GET /sessions, an admin-visibility surface over
// the registry's current producer registrations.
type SessionsHandler struct {
	registry *broker.ConnectionRegistry
}

func NewSessionsHandler(registry *broker.ConnectionRegistry) *SessionsHandler {
	return &SessionsHandler{registry: registry}
}

func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := h.registry.AllSessions()
	out := make([]sessionSummary, 0, len(all))
	for id, info := range all {
		out = append(out, sessionSummary{SessionID: id, Integration: info.Integration, StartedAt: info.StartedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
