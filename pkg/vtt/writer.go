// Package vtt writes a session's finalized transcript history out as a
// WebVTT artifact.
package vtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaytext/session-broker/pkg/broker"
)

const defaultTimestamp = "00:00:00.000 --> 00:00:00.000"

// Writer saves transcript history to disk under
// <root>/<integration>/<session_id>/transcript.vtt.
type Writer struct {
	root string
	log  broker.Logger
}

// NewWriter builds a Writer rooted at root (the broker's configured
// artifact directory).
func NewWriter(root string, log broker.Logger) *Writer {
	if log == nil {
		log = broker.NoOpLogger{}
	}
	return &Writer{root: root, log: log}
}

// Write renders history as a WebVTT document and saves it. A nil or empty
// history is a no-op: there is nothing worth persisting for a session that
// produced no finalized utterances.
func (w *Writer) Write(sessionID, integration string, history []broker.Record) (string, error) {
	if len(history) == 0 {
		w.log.Info("vtt: no history to save", "session_id", sessionID)
		return "", nil
	}

	outputDir := filepath.Join(w.root, integration, sessionID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create vtt output dir: %w", err)
	}

	path := filepath.Join(outputDir, "transcript.vtt")
	content := Render(history)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write vtt file: %w", err)
	}

	w.log.Info("vtt: transcript saved", "session_id", sessionID, "path", path, "entries", len(history))
	return path, nil
}

// Render formats history into a complete WebVTT document body.
func Render(history []broker.Record) string {
	lines := []string{"WEBVTT", ""}

	for i, entry := range history {
		speaker := entry.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		transcription := strings.TrimSpace(entry.Transcription)
		translation := strings.TrimSpace(entry.Translation)
		timestamp := entry.VTTTimestamp
		if timestamp == "" {
			timestamp = defaultTimestamp
		}

		lines = append(lines,
			fmt.Sprintf("%d", i+1),
			timestamp,
			fmt.Sprintf("%s: %s", speaker, transcription),
		)
		if translation != "" {
			lines = append(lines, translation)
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
