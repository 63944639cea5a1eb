package correction

import (
	"context"

	"github.com/relaytext/session-broker/pkg/broker"
)

// EngineSink adapts an *Engine to broker.CorrectionSink: the orchestrator
// deals exclusively in broker.UtteranceForCorrection so it never needs to
// import this package's types.
type EngineSink struct {
	engine *Engine
}

// NewEngineSink wraps engine for use as a broker.CorrectionSink.
func NewEngineSink(engine *Engine) *EngineSink {
	return &EngineSink{engine: engine}
}

func (s *EngineSink) ProcessFinalUtterance(u broker.UtteranceForCorrection) {
	s.engine.ProcessFinalUtterance(Utterance{
		MessageID:     u.MessageID,
		Transcription: u.Transcription,
		Speaker:       u.Speaker,
	})
}

func (s *EngineSink) FinalizeSession(ctx context.Context) {
	s.engine.FinalizeSession(ctx)
}
