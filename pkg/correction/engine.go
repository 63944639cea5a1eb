package correction

import (
	"context"
	"strings"
	"sync"

	"github.com/relaytext/session-broker/pkg/broker"
)

// defaultWindowSize is used when NewEngine is given a non-positive window.
const defaultWindowSize = 5

// Sink is the narrow broadcast capability the engine needs to publish
// status updates and corrections back to viewers.
type Sink interface {
	Broadcast(sessionID string, r broker.Record)
}

// Engine runs the trailing-window contextual correction pipeline for one
// session: every finalized utterance is appended to a bounded history, and
// once the history reaches windowSize, the oldest utterance still in it is
// corrected using (up to two of) the utterances that followed it as context. windowSize is the session's configured correction context
// size (broker.Config.CorrectionContextSize), not a package constant, so
// every session can be tuned independently.
type Engine struct {
	sessionID  string
	windowSize int
	model      Model
	translator Translator
	sink       Sink
	log        Logger

	mu      sync.Mutex
	history []Utterance

	wg sync.WaitGroup
}

// NewEngine builds an Engine for one session. windowSize non-positive falls
// back to defaultWindowSize.
func NewEngine(sessionID string, windowSize int, model Model, translator Translator, sink Sink, log Logger) *Engine {
	if log == nil {
		log = noOpLogger{}
	}
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Engine{
		sessionID:  sessionID,
		windowSize: windowSize,
		model:      model,
		translator: translator,
		sink:       sink,
		log:        log,
	}
}

// ProcessFinalUtterance records a newly finalized utterance and, if the
// trailing window is full, kicks off an asynchronous correction pass on the
// oldest utterance in the window, with the (up to two) utterances after it
// as context. The correction runs in a tracked background goroutine so
// FinalizeSession can wait for it to finish.
func (e *Engine) ProcessFinalUtterance(u Utterance) {
	e.mu.Lock()
	e.history = append(e.history, u)
	if len(e.history) > e.windowSize {
		e.history = e.history[len(e.history)-e.windowSize:]
	}
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Debug("correction: recorded final utterance", "message_id", u.MessageID, "history_size", len(snapshot))

	if len(snapshot) < e.windowSize {
		return
	}
	target := snapshot[len(snapshot)-e.windowSize]
	ctxHistory := contextFor(snapshot, target.MessageID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.performCorrection(context.Background(), target, ctxHistory)
	}()
}

// FinalizeSession waits for in-flight corrections to complete, then runs a
// synchronous correction pass over whatever trailing utterances never
// reached the front of the window: the last windowSize-1 if the window
// filled, or everything if it never did.
func (e *Engine) FinalizeSession(ctx context.Context) {
	e.wg.Wait()

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	numToCheck := e.windowSize - 1
	var targets []Utterance
	switch {
	case len(snapshot) >= e.windowSize:
		targets = snapshot[len(snapshot)-numToCheck:]
	case len(snapshot) > 0:
		targets = snapshot
	default:
		e.log.Info("correction: no history for final pass")
		return
	}

	e.log.Info("correction: running final pass", "count", len(targets))
	for _, target := range targets {
		ctxHistory := contextFor(snapshot, target.MessageID)
		e.performCorrection(ctx, target, ctxHistory)
	}
}

func (e *Engine) snapshotLocked() []Utterance {
	out := make([]Utterance, len(e.history))
	copy(out, e.history)
	return out
}

// contextFor returns the transcriptions of the (up to two) utterances that
// immediately followed target in history, or nil if target isn't present.
func contextFor(history []Utterance, targetID string) []string {
	for i, u := range history {
		if u.MessageID != targetID {
			continue
		}
		end := i + 3
		if end > len(history) {
			end = len(history)
		}
		following := history[i+1 : end]
		out := make([]string, len(following))
		for j, f := range following {
			out[j] = f.Transcription
		}
		return out
	}
	return nil
}

func (e *Engine) performCorrection(ctx context.Context, target Utterance, contextHistory []string) {
	result, err := e.model.Correct(ctx, target.Transcription, contextHistory)
	if err != nil {
		e.log.Warn("correction: model call failed", "message_id", target.MessageID, "error", err)
		broker.ObserveCorrectionOutcome(broker.CorrectionOutcomeError)
		return
	}

	corrected := strings.TrimSpace(result.CorrectedSentence)
	if !result.IsCorrectionNeeded || corrected == "" || corrected == strings.TrimSpace(target.Transcription) {
		e.log.Info("correction: no correction applied", "message_id", target.MessageID, "reasoning", result.Reasoning)
		broker.ObserveCorrectionOutcome(broker.CorrectionOutcomeSkipped)
		return
	}

	e.sink.Broadcast(e.sessionID, broker.Record{
		MessageID:        target.MessageID,
		Type:             broker.RecordStatusUpdate,
		CorrectionStatus: broker.CorrectionCorrecting,
	})

	translated, err := e.translator.Translate(ctx, corrected)
	if err != nil {
		e.log.Warn("correction: translation failed", "message_id", target.MessageID, "error", err)
		translated = ""
	}

	e.sink.Broadcast(e.sessionID, broker.Record{
		MessageID:     target.MessageID,
		Transcription: corrected,
		Translation:   translated,
		Speaker:       target.Speaker,
		Type:          broker.RecordCorrection,
		IsFinalize:    true,
	})
	e.log.Info("correction: applied", "message_id", target.MessageID, "reasoning", result.Reasoning)
	broker.ObserveCorrectionOutcome(broker.CorrectionOutcomeApplied)
}
