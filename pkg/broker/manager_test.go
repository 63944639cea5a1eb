package broker

import "testing"

func TestManagerAttachViewerFailsForUnknownSession(t *testing.T) {
	m := NewManager(DefaultConfig(), NewConnectionRegistry(), &fakeArtifactWriter{}, stubSTTBuilder, stubCorrBuilder, NoOpLogger{})

	v := &recordingViewer{id: "v1"}
	if err := m.AttachViewer("missing", v); err != ErrNoSuchSession {
		t.Fatalf("AttachViewer() error = %v, want ErrNoSuchSession", err)
	}
}

func TestManagerNewSessionThenAttachViewerSucceeds(t *testing.T) {
	m := NewManager(DefaultConfig(), NewConnectionRegistry(), &fakeArtifactWriter{}, stubSTTBuilder, stubCorrBuilder, NoOpLogger{})

	o := m.NewSession("sess-1", "zoom")
	if o == nil {
		t.Fatalf("NewSession returned nil")
	}

	v := &recordingViewer{id: "v1"}
	if err := m.AttachViewer("sess-1", v); err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}
}

func TestManagerEndSessionRemovesResources(t *testing.T) {
	m := NewManager(DefaultConfig(), NewConnectionRegistry(), &fakeArtifactWriter{}, stubSTTBuilder, stubCorrBuilder, NoOpLogger{})

	m.NewSession("sess-1", "zoom")
	m.EndSession("sess-1")

	v := &recordingViewer{id: "v1"}
	if err := m.AttachViewer("sess-1", v); err != ErrNoSuchSession {
		t.Fatalf("AttachViewer() error = %v, want ErrNoSuchSession after EndSession", err)
	}
}

func stubSTTBuilder(sessionID string) STTStreamFactory {
	return func() STTStream { return newFakeSTTStream() }
}

func stubCorrBuilder(sessionID string, b *Broadcaster) CorrectionSink {
	return &fakeCorrectionSink{}
}
