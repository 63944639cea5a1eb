package broker

import "sync"

// ConnectionRegistry enforces at-most-one producer per session and tracks
// viewer membership, behind a single mutex with O(1) critical sections.
type ConnectionRegistry struct {
	mu        sync.Mutex
	producers map[string]SessionInfo
	viewers   map[string]map[string]ViewerHandle // session_id -> viewer_id -> handle
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		producers: make(map[string]SessionInfo),
		viewers:   make(map[string]map[string]ViewerHandle),
	}
}

// RegisterProducer is a test-and-set: it fails if a producer is already
// registered for sessionID.
func (r *ConnectionRegistry) RegisterProducer(sessionID, integration string, startedAtUnixNano int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[sessionID]; exists {
		metricProducerRejections.Inc()
		return ErrProducerAlreadyActive
	}
	r.producers[sessionID] = SessionInfo{Integration: integration, StartedAt: startedAtUnixNano}
	metricActiveSessions.Inc()
	return nil
}

// DeregisterProducer removes the producer registration, if any.
func (r *ConnectionRegistry) DeregisterProducer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[sessionID]; exists {
		metricActiveSessions.Dec()
	}
	delete(r.producers, sessionID)
}

// IsActive reports whether a producer is currently registered for sessionID.
func (r *ConnectionRegistry) IsActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[sessionID]
	return ok
}

// AttachViewer adds a viewer handle to a session's viewer set.
func (r *ConnectionRegistry) AttachViewer(sessionID string, v ViewerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.viewers[sessionID]
	if !ok {
		set = make(map[string]ViewerHandle)
		r.viewers[sessionID] = set
	}
	set[v.ID()] = v
}

// DetachViewer removes a viewer handle from a session's viewer set.
func (r *ConnectionRegistry) DetachViewer(sessionID string, v ViewerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.viewers[sessionID]
	if !ok {
		return
	}
	delete(set, v.ID())
	if len(set) == 0 {
		delete(r.viewers, sessionID)
	}
}

// ViewersOf returns a snapshot slice of the current viewer handles for a
// session. The slice is safe to range over without holding the registry
// lock; handles may detach concurrently, which is why individual sends must
// tolerate failure.
func (r *ConnectionRegistry) ViewersOf(sessionID string) []ViewerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.viewers[sessionID]
	out := make([]ViewerHandle, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	return out
}

// Snapshot returns the registration info for sessionID, for the
// admin-introspection endpoint.
func (r *ConnectionRegistry) Snapshot(sessionID string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.producers[sessionID]
	return info, ok
}

// AllSessions returns every currently-active session id and its info.
func (r *ConnectionRegistry) AllSessions() map[string]SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SessionInfo, len(r.producers))
	for k, v := range r.producers {
		out[k] = v
	}
	return out
}
