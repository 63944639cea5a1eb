package broker

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxFanoutParallelism bounds how many viewer sends run concurrently for a
// single broadcast, so one session with a thousand viewers doesn't starve
// goroutine scheduling for everyone else.
const maxFanoutParallelism = 32

// Broadcaster delivers transcript records to every viewer attached to a
// session, caching each record first so a viewer that attaches mid-session
// can replay history before receiving anything live. The cache and the
// registry are independently-locked collaborators, so Attach's
// snapshot-then-register and Broadcast's write-then-read must themselves
// be serialized against each other under mu: otherwise a record broadcast
// between the snapshot and the registration is excluded from both the
// replay and the live fan-out. Attach holds mu through the replay sends, so
// a live record broadcast meanwhile reaches the new viewer only after its
// replay completes; Broadcast holds mu only for the cache write and viewer
// lookup, never across its own fan-out sends.
type Broadcaster struct {
	mu       sync.Mutex
	registry *ConnectionRegistry
	cache    *TranscriptCache
	log      Logger
}

// NewBroadcaster builds a Broadcaster over an already-constructed registry
// and cache for one session.
func NewBroadcaster(registry *ConnectionRegistry, cache *TranscriptCache, log Logger) *Broadcaster {
	if log == nil {
		log = NoOpLogger{}
	}
	return &Broadcaster{registry: registry, cache: cache, log: log}
}

// Attach registers v as a viewer of sessionID and replays the cached
// history to it before returning. The snapshot and the registration happen
// under mu as one atomic step so a concurrent Broadcast can never land in
// the gap between them: it either observes v already registered (and
// delivers live) or ran before the snapshot (and is already in history).
// mu stays held until the replay is sent, so no live record overtakes it.
func (b *Broadcaster) Attach(sessionID string, v ViewerHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := b.cache.History()
	b.registry.AttachViewer(sessionID, v)

	for _, r := range history {
		if err := v.Send(r); err != nil {
			return err
		}
	}
	return nil
}

// Detach removes v from sessionID's viewer set.
func (b *Broadcaster) Detach(sessionID string, v ViewerHandle) {
	b.registry.DetachViewer(sessionID, v)
}

// Broadcast caches r for replay and fans it out to every viewer currently
// attached to sessionID. A send failure for one viewer is logged and
// swallowed; it never prevents delivery to the rest. The cache write and
// the viewer-set read happen under mu as one atomic step, matching Attach.
func (b *Broadcaster) Broadcast(sessionID string, r Record) {
	b.mu.Lock()
	b.cache.Process(r)
	viewers := b.registry.ViewersOf(sessionID)
	b.mu.Unlock()

	if len(viewers) == 0 {
		return
	}

	start := time.Now()
	defer func() { metricBroadcastFanoutSeconds.Observe(time.Since(start).Seconds()) }()

	var g errgroup.Group
	g.SetLimit(maxFanoutParallelism)
	for _, v := range viewers {
		v := v
		g.Go(func() error {
			if err := v.Send(r); err != nil {
				b.log.Warn("viewer send failed", "session_id", sessionID, "viewer_id", v.ID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return an error; fan-out failures are logged individually
}
