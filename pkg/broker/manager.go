package broker

import "sync"

// STTFactoryBuilder mints a session-scoped STTStreamFactory for the given
// session id.
type STTFactoryBuilder func(sessionID string) STTStreamFactory

// CorrectionSinkBuilder mints a session-scoped CorrectionSink bound to that
// session's own Broadcaster, so corrections land in the right cache.
type CorrectionSinkBuilder func(sessionID string, broadcaster *Broadcaster) CorrectionSink

// Manager owns the per-session resources (cache, broadcaster) that live for
// the duration of one producer connection, and is the lookup point viewer
// connections use to find the broadcaster for a session that's already
// streaming. The Connection Registry and artifact writer are shared across
// every session; the cache and broadcaster are not.
type Manager struct {
	config    Config
	registry  *ConnectionRegistry
	artifacts ArtifactWriter
	sttBuild  STTFactoryBuilder
	corrBuild CorrectionSinkBuilder
	log       Logger

	mu       sync.Mutex
	sessions map[string]*sessionResources
}

type sessionResources struct {
	cache       *TranscriptCache
	broadcaster *Broadcaster
}

// NewManager builds a Manager. sttBuild and corrBuild are invoked once per
// NewSession call to produce that session's upstream client factory and
// correction sink.
func NewManager(
	config Config,
	registry *ConnectionRegistry,
	artifacts ArtifactWriter,
	sttBuild STTFactoryBuilder,
	corrBuild CorrectionSinkBuilder,
	log Logger,
) *Manager {
	if log == nil {
		log = NoOpLogger{}
	}
	return &Manager{
		config:    config,
		registry:  registry,
		artifacts: artifacts,
		sttBuild:  sttBuild,
		corrBuild: corrBuild,
		log:       log,
		sessions:  make(map[string]*sessionResources),
	}
}

// NewSession allocates this session's cache and broadcaster and returns a
// ready-to-run Orchestrator. Callers must call EndSession once the
// Orchestrator's Run method returns, so viewer attach requests against a
// torn-down session fail cleanly instead of resurrecting stale resources.
func (m *Manager) NewSession(sessionID, integration string) *Orchestrator {
	budgetBytes := m.config.MaxCacheMB * 1 << 20
	cache := NewTranscriptCache(budgetBytes)
	b := NewBroadcaster(m.registry, cache, m.log)

	m.mu.Lock()
	m.sessions[sessionID] = &sessionResources{cache: cache, broadcaster: b}
	m.mu.Unlock()

	sink := m.corrBuild(sessionID, b)
	sttFactory := m.sttBuild(sessionID)

	return NewOrchestrator(sessionID, integration, m.config, m.registry, b, cache, sink, m.artifacts, sttFactory, m.log)
}

// EndSession releases sessionID's resources. Safe to call even if the
// session was never created or was already ended.
func (m *Manager) EndSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// AttachViewer replays history and registers v against sessionID's
// broadcaster, or ErrNoSuchSession if no producer is currently streaming
// for that session.
func (m *Manager) AttachViewer(sessionID string, v ViewerHandle) error {
	res, ok := m.lookup(sessionID)
	if !ok {
		return ErrNoSuchSession
	}
	return res.broadcaster.Attach(sessionID, v)
}

// DetachViewer removes v from sessionID's viewer set, if the session still
// exists.
func (m *Manager) DetachViewer(sessionID string, v ViewerHandle) {
	if res, ok := m.lookup(sessionID); ok {
		res.broadcaster.Detach(sessionID, v)
	}
}

func (m *Manager) lookup(sessionID string) (*sessionResources, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.sessions[sessionID]
	return res, ok
}
