package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaytext/session-broker/pkg/sttclient"
)

// ProducerFrame is one decoded inbound message from a producer connection:
// a speaker label and raw PCM16 audio.
type ProducerFrame struct {
	UserName string
	Audio    []byte
}

// UtteranceForCorrection is the narrow payload the orchestrator hands to a
// CorrectionSink, kept free of any dependency on the correction engine's
// own types so the two packages don't import each other.
type UtteranceForCorrection struct {
	MessageID     string
	Speaker       string
	Transcription string
}

// CorrectionSink is the capability the orchestrator needs from a
// correction engine: enqueue a finalized utterance, and block until all
// outstanding corrections (plus the end-of-session trailing pass) finish.
type CorrectionSink interface {
	ProcessFinalUtterance(u UtteranceForCorrection)
	FinalizeSession(ctx context.Context)
}

// ArtifactWriter persists a session's finalized history as a durable file
// and reports where it landed (or "" if there was nothing to write).
type ArtifactWriter interface {
	Write(sessionID, integration string, history []Record) (string, error)
}

// STTStream is a single upstream speech-to-text connection: configure once
// via the factory that built it, then push audio and drain results until
// the channel closes.
type STTStream interface {
	Connect(ctx context.Context) error
	SendAudio(ctx context.Context, chunk []byte) error
	Finalize(ctx context.Context) error
	Close() error
	Results() <-chan sttclient.Result
	Err() error
}

// STTStreamFactory builds a fresh STTStream, used both for the initial
// connection and every reconnect attempt.
type STTStreamFactory func() STTStream

// Orchestrator is the per-producer-connection state machine: it owns the
// utterance lifecycle, drives the upstream STT client through
// Streaming/Reconnecting, and runs the Draining teardown sequence no
// matter how the session ends.
type Orchestrator struct {
	sessionID   string
	integration string
	config      Config

	registry    *ConnectionRegistry
	broadcaster *Broadcaster
	cache       *TranscriptCache
	clock       *Clock
	correction  CorrectionSink
	artifacts   ArtifactWriter
	sttFactory  STTStreamFactory
	log         Logger

	mu                 sync.Mutex
	currentUtteranceID string
	isNewUtterance     bool
	currentSpeaker     string
	utteranceOrdinal   int
	fatalErr           error

	sttMu     sync.Mutex
	sttClient STTStream

	fatalOnce sync.Once
	fatalCh   chan struct{}
	loopDone  chan struct{}
}

// NewOrchestrator builds an Orchestrator for one producer session. The
// registry and artifact writer are shared across the broker's sessions;
// broadcaster, cache, correction sink and sttFactory are session-scoped.
func NewOrchestrator(
	sessionID, integration string,
	config Config,
	registry *ConnectionRegistry,
	broadcaster *Broadcaster,
	cache *TranscriptCache,
	correction CorrectionSink,
	artifacts ArtifactWriter,
	sttFactory STTStreamFactory,
	log Logger,
) *Orchestrator {
	if log == nil {
		log = NoOpLogger{}
	}
	if sl, ok := log.(*SlogLogger); ok {
		log = sl.WithSession(sessionID)
	}
	return &Orchestrator{
		sessionID:      sessionID,
		integration:    integration,
		config:         config,
		registry:       registry,
		broadcaster:    broadcaster,
		cache:          cache,
		clock:          NewClock(),
		correction:     correction,
		artifacts:      artifacts,
		sttFactory:     sttFactory,
		log:            log,
		isNewUtterance: true,
		currentSpeaker: "Unknown",
		fatalCh:        make(chan struct{}),
	}
}

// Run registers the producer, drives Streaming until frames closes or a
// fatal condition occurs, and always runs Draining before returning.
// Registering failures (duplicate producer) return before any session
// state or STT connection is created.
func (o *Orchestrator) Run(ctx context.Context, frames <-chan ProducerFrame) error {
	if err := o.registry.RegisterProducer(o.sessionID, o.integration, time.Now().UnixNano()); err != nil {
		return err
	}
	defer o.drain()

	sttCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.loopDone = make(chan struct{})
	go o.runSTT(sttCtx)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			o.handleProducerFrame(ctx, frame)
		case <-o.fatalCh:
			o.mu.Lock()
			err := o.fatalErr
			o.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) handleProducerFrame(ctx context.Context, frame ProducerFrame) {
	if frame.UserName != "" {
		o.mu.Lock()
		o.currentSpeaker = frame.UserName
		o.mu.Unlock()
	}

	o.sttMu.Lock()
	client := o.sttClient
	o.sttMu.Unlock()

	if client == nil {
		// Reconnecting or not yet connected: audio is dropped, never buffered.
		return
	}
	if err := client.SendAudio(ctx, frame.Audio); err != nil {
		o.log.Debug("dropped audio frame", "session_id", o.sessionID, "error", err)
	}
}

// runSTT owns the upstream connection across its whole Streaming lifetime:
// initial connect, every Reconnecting attempt, and final shutdown once the
// orchestrator starts Draining (which closes the stream out from under
// this loop).
func (o *Orchestrator) runSTT(ctx context.Context) {
	defer close(o.loopDone)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := o.sttFactory()
		if err := client.Connect(ctx); err != nil {
			if sttclient.IsFatal(err) {
				o.failFatal(err)
				return
			}
			o.log.Warn("stt connect failed, retrying", "session_id", o.sessionID, "error", err, "attempt", attempt)
			o.backoffSleep(ctx, attempt)
			attempt++
			continue
		}

		o.setSTTClient(client)
		attempt = 0

		for r := range client.Results() {
			o.handleSTTResult(r)
		}

		err := client.Err()
		if err == nil {
			o.setSTTClient(nil)
			return
		}
		if sttclient.IsConnection(err) {
			o.log.Warn("stt connection lost, reconnecting", "session_id", o.sessionID, "error", err)
			metricSTTReconnects.Inc()
			client.Close()
			o.setSTTClient(nil)
			o.backoffSleep(ctx, attempt)
			attempt++
			continue
		}

		o.log.Error("stt fatal error", "session_id", o.sessionID, "error", err)
		client.Close()
		o.setSTTClient(nil)
		o.failFatal(err)
		return
	}
}

func (o *Orchestrator) setSTTClient(c STTStream) {
	o.sttMu.Lock()
	o.sttClient = c
	o.sttMu.Unlock()
}

func (o *Orchestrator) backoffSleep(ctx context.Context, attempt int) {
	delay := o.config.BackoffDelay(attempt)
	if delay <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(delay * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) failFatal(err error) {
	o.mu.Lock()
	if o.fatalErr == nil {
		o.fatalErr = err
	}
	o.mu.Unlock()
	o.fatalOnce.Do(func() { close(o.fatalCh) })
}

// handleSTTResult applies one upstream result to the utterance state
// machine, broadcasting partial/final records and enqueueing eligible
// finals for correction.
func (o *Orchestrator) handleSTTResult(r sttclient.Result) {
	o.mu.Lock()
	if o.isNewUtterance && !r.IsFinal {
		o.currentUtteranceID = uuid.New().String()
		o.isNewUtterance = false
		o.mu.Unlock()
		o.clock.MarkStart(o.currentUtteranceID)
		o.mu.Lock()
	}
	if o.currentUtteranceID == "" && r.IsFinal {
		o.isNewUtterance = true
		o.mu.Unlock()
		return
	}

	id := o.currentUtteranceID
	speaker := o.currentSpeaker
	if r.Speaker != "" {
		speaker = r.Speaker
	}
	o.mu.Unlock()

	if !r.IsFinal {
		if r.Transcription != "" || r.Translation != "" {
			o.clock.MarkStart(id)
			o.broadcaster.Broadcast(o.sessionID, Record{
				MessageID:      id,
				Transcription:  r.Transcription,
				Translation:    r.Translation,
				SourceLanguage: r.SourceLanguage,
				TargetLanguage: r.TargetLanguage,
				Speaker:        speaker,
				Type:           RecordPartial,
				IsFinalize:     false,
			})
		}
		return
	}

	// Final: always promoted, even with empty transcription/translation,
	// so the utterance's lifecycle closes out and a cue is still cached.
	vttTimestamp := o.clock.Complete(id)
	canonicalID := o.nextCanonicalID(r.SourceLanguage)

	o.broadcaster.Broadcast(o.sessionID, Record{
		MessageID:      canonicalID,
		Transcription:  r.Transcription,
		Translation:    r.Translation,
		SourceLanguage: r.SourceLanguage,
		TargetLanguage: r.TargetLanguage,
		Speaker:        speaker,
		Type:           RecordFinal,
		IsFinalize:     true,
		VTTTimestamp:   vttTimestamp,
	})

	if o.config.CorrectionEligible(r.SourceLanguage) && r.Transcription != "" {
		o.correction.ProcessFinalUtterance(UtteranceForCorrection{
			MessageID:     canonicalID,
			Speaker:       speaker,
			Transcription: r.Transcription,
		})
	}

	o.mu.Lock()
	o.currentUtteranceID = ""
	o.isNewUtterance = true
	o.mu.Unlock()
}

// nextCanonicalID mints the "<ordinal>_<lang>" form finalized records are
// addressed by, resolving the Open Question of two competing message_id
// conventions in favor of a stable, cache-friendly identifier; the
// transient UUID allocated at utterance start appears only as the
// message_id of partial records, which are never cached.
func (o *Orchestrator) nextCanonicalID(sourceLanguage string) string {
	lang := sourceLanguage
	if lang == "" {
		lang = "und"
	}
	o.mu.Lock()
	o.utteranceOrdinal++
	n := o.utteranceOrdinal
	o.mu.Unlock()
	return fmt.Sprintf("%d_%s", n, lang)
}

// drain runs the Draining teardown sequence. It always runs, regardless of
// how Streaming ended, and is not itself cancellable: the surrounding
// context's cancellation stops new work, not cleanup of work already
// admitted.
func (o *Orchestrator) drain() {
	o.sttMu.Lock()
	client := o.sttClient
	o.sttMu.Unlock()

	if client != nil {
		fctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.config.STTFinalizeTimeoutSeconds)*time.Second)
		if err := client.Finalize(fctx); err != nil {
			o.log.Debug("stt finalize error during drain", "session_id", o.sessionID, "error", err)
		}
		select {
		case <-o.loopDone:
		case <-fctx.Done():
		}
		cancel()
		client.Close()
	}

	o.correction.FinalizeSession(context.Background())

	history := o.cache.History()
	if path, err := o.artifacts.Write(o.sessionID, o.integration, history); err != nil {
		o.log.Warn("artifact write failed", "session_id", o.sessionID, "error", err)
	} else if path != "" {
		o.log.Info("artifact written", "session_id", o.sessionID, "path", path)
	}
	o.cache.Clear()

	o.broadcaster.Broadcast(o.sessionID, Record{Type: RecordSessionEnd})

	o.registry.DeregisterProducer(o.sessionID)
}
