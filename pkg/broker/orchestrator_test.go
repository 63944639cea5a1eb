package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaytext/session-broker/pkg/sttclient"
)

type fakeSTTStream struct {
	connectErr error
	results    chan sttclient.Result
	endErr     error

	mu         sync.Mutex
	closeOnce  sync.Once
	sentAudio  [][]byte
	finalized  bool
	closed     bool
}

func newFakeSTTStream() *fakeSTTStream {
	return &fakeSTTStream{results: make(chan sttclient.Result, 8)}
}

func (f *fakeSTTStream) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeSTTStream) SendAudio(ctx context.Context, chunk []byte) error {
	f.mu.Lock()
	f.sentAudio = append(f.sentAudio, chunk)
	f.mu.Unlock()
	return nil
}

// Finalize simulates the upstream ending the stream once told to finalize,
// same as the real provider after it sees the finished flag.
func (f *fakeSTTStream) Finalize(ctx context.Context) error {
	f.mu.Lock()
	f.finalized = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.results) })
	return nil
}

func (f *fakeSTTStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSTTStream) Results() <-chan sttclient.Result { return f.results }
func (f *fakeSTTStream) Err() error                       { return f.endErr }

func (f *fakeSTTStream) push(r sttclient.Result) { f.results <- r }

func (f *fakeSTTStream) endWithError(err error) {
	f.mu.Lock()
	f.endErr = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.results) })
}

type fakeCorrectionSink struct {
	mu        sync.Mutex
	processed []UtteranceForCorrection
	finalized bool
}

func (f *fakeCorrectionSink) ProcessFinalUtterance(u UtteranceForCorrection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, u)
}

func (f *fakeCorrectionSink) FinalizeSession(ctx context.Context) {
	f.mu.Lock()
	f.finalized = true
	f.mu.Unlock()
}

func (f *fakeCorrectionSink) calls() []UtteranceForCorrection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UtteranceForCorrection, len(f.processed))
	copy(out, f.processed)
	return out
}

type fakeArtifactWriter struct {
	mu      sync.Mutex
	history []Record
	path    string
}

func (f *fakeArtifactWriter) Write(sessionID, integration string, history []Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = history
	return f.path, nil
}

func testOrchestrator(t *testing.T, cfg Config, stream *fakeSTTStream) (*Orchestrator, *ConnectionRegistry, *TranscriptCache, *Broadcaster, *fakeCorrectionSink, *fakeArtifactWriter) {
	t.Helper()
	reg := NewConnectionRegistry()
	cache := NewTranscriptCache(1 << 20)
	b := NewBroadcaster(reg, cache, NoOpLogger{})
	sink := &fakeCorrectionSink{}
	artifacts := &fakeArtifactWriter{}

	factory := func() STTStream { return stream }
	o := NewOrchestrator("sess-1", "zoom", cfg, reg, b, cache, sink, artifacts, factory, NoOpLogger{})
	return o, reg, cache, b, sink, artifacts
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestOrchestratorHappyPathSingleUtterance(t *testing.T) {
	stream := newFakeSTTStream()
	cfg := DefaultConfig()
	o, _, cache, _, sink, artifacts := testOrchestrator(t, cfg, stream)

	frames := make(chan ProducerFrame)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), frames) }()

	stream.push(sttclient.Result{Transcription: "hel", IsFinal: false, SourceLanguage: "en"})
	stream.push(sttclient.Result{Transcription: "hello", Translation: "", IsFinal: true, SourceLanguage: "en"})

	waitForCondition(t, func() bool { return cache.Size() == 1 })
	close(frames)

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	history := cache.History()
	if len(history) != 0 {
		t.Fatalf("expected cache cleared after drain, got %d entries", len(history))
	}
	if len(artifacts.history) != 1 || artifacts.history[0].MessageID != "1_en" {
		t.Fatalf("unexpected artifact history: %+v", artifacts.history)
	}
	if len(sink.calls()) != 0 {
		t.Fatalf("english is not correction-eligible by default, expected no correction calls")
	}
	if !stream.finalized {
		t.Fatalf("expected stt stream to be finalized during drain")
	}
}

func TestOrchestratorRejectsDuplicateProducer(t *testing.T) {
	stream := newFakeSTTStream()
	cfg := DefaultConfig()
	o, reg, _, _, _, _ := testOrchestrator(t, cfg, stream)

	if err := reg.RegisterProducer("sess-1", "zoom", 1); err != nil {
		t.Fatalf("seed RegisterProducer: %v", err)
	}

	frames := make(chan ProducerFrame)
	err := o.Run(context.Background(), frames)
	if err != ErrProducerAlreadyActive {
		t.Fatalf("Run() error = %v, want ErrProducerAlreadyActive", err)
	}
}

func TestOrchestratorEnqueuesEligibleFinalForCorrection(t *testing.T) {
	stream := newFakeSTTStream()
	cfg := DefaultConfig()
	o, _, cache, _, sink, _ := testOrchestrator(t, cfg, stream)

	frames := make(chan ProducerFrame)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), frames) }()

	stream.push(sttclient.Result{Transcription: "partial", IsFinal: false, SourceLanguage: "zh"})
	stream.push(sttclient.Result{Transcription: "你好", Translation: "hello", IsFinal: true, SourceLanguage: "zh"})

	waitForCondition(t, func() bool { return cache.Size() == 1 })
	close(frames)
	<-done

	calls := sink.calls()
	if len(calls) != 1 || calls[0].MessageID != "1_zh" || calls[0].Transcription != "你好" {
		t.Fatalf("unexpected correction calls: %+v", calls)
	}
}

func TestOrchestratorReconnectsOnConnectionError(t *testing.T) {
	first := newFakeSTTStream()
	second := newFakeSTTStream()

	reg := NewConnectionRegistry()
	cache := NewTranscriptCache(1 << 20)
	b := NewBroadcaster(reg, cache, NoOpLogger{})
	sink := &fakeCorrectionSink{}
	artifacts := &fakeArtifactWriter{}

	var mu sync.Mutex
	attempt := 0
	factory := func() STTStream {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		if attempt == 1 {
			return first
		}
		return second
	}

	cfg := DefaultConfig()
	cfg.ReconnectBackoffSchedule = []float64{0}
	o := NewOrchestrator("sess-1", "zoom", cfg, reg, b, cache, sink, artifacts, factory, NoOpLogger{})

	frames := make(chan ProducerFrame)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), frames) }()

	first.endWithError(sttclientConnectionError())

	second.push(sttclient.Result{IsFinal: false, SourceLanguage: "en"})
	second.push(sttclient.Result{Transcription: "hi", IsFinal: true, SourceLanguage: "en"})
	waitForCondition(t, func() bool { return cache.Size() == 1 })

	close(frames)
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !second.finalized {
		t.Fatalf("expected reconnected stream to be finalized during drain")
	}
}

func TestOrchestratorBroadcastsSessionEndOnDrain(t *testing.T) {
	stream := newFakeSTTStream()
	cfg := DefaultConfig()
	o, _, cache, b, _, _ := testOrchestrator(t, cfg, stream)

	v := &recordingViewer{id: "v1"}
	if err := b.Attach("sess-1", v); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	frames := make(chan ProducerFrame)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), frames) }()

	stream.push(sttclient.Result{IsFinal: false, SourceLanguage: "en"})
	stream.push(sttclient.Result{Transcription: "hi", IsFinal: true, SourceLanguage: "en"})
	waitForCondition(t, func() bool { return cache.Size() == 1 })

	close(frames)
	<-done

	got := v.received()
	if len(got) != 2 {
		t.Fatalf("expected final + session_end delivered, got %+v", got)
	}
	if got[len(got)-1].Type != RecordSessionEnd {
		t.Fatalf("expected last record to be session_end, got %+v", got[len(got)-1])
	}
}

func TestOrchestratorDropsAudioWhileDisconnected(t *testing.T) {
	stream := newFakeSTTStream()
	stream.connectErr = sttclientConnectionError()

	cfg := DefaultConfig()
	cfg.ReconnectBackoffSchedule = []float64{60} // long enough that the test controls timing
	o, _, _, _, _, _ := testOrchestrator(t, cfg, stream)

	frames := make(chan ProducerFrame, 1)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), frames) }()

	frames <- ProducerFrame{UserName: "alice", Audio: []byte{1, 2, 3}}
	time.Sleep(20 * time.Millisecond)

	close(frames)
	<-done

	if len(stream.sentAudio) != 0 {
		t.Fatalf("expected no audio forwarded while never connected, got %d frames", len(stream.sentAudio))
	}
}

func sttclientConnectionError() error {
	return &sttclient.Error{Kind: sttclient.KindConnection, Msg: "upstream closed"}
}
