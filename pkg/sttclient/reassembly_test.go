package sttclient

import "testing"

func TestReassemblerAccumulatesNonFinalProgress(t *testing.T) {
	r := newReassembler("en", false)

	results, end, err := r.feed(message{Tokens: []token{
		{Text: "hel", IsFinal: false},
		{Text: "lo", IsFinal: false},
	}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if end {
		t.Fatalf("expected no end-of-utterance")
	}
	if len(results) != 1 || results[0].Transcription != "hello" || results[0].IsFinal {
		t.Fatalf("unexpected progress result: %+v", results)
	}
}

func TestReassemblerFinalTokensAccumulateAcrossMessages(t *testing.T) {
	r := newReassembler("en", false)

	r.feed(message{Tokens: []token{{Text: "hello ", IsFinal: true, Language: "en"}}})
	results, _, err := r.feed(message{Tokens: []token{{Text: "world", IsFinal: true}}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if results[0].Transcription != "hello world" {
		t.Fatalf("expected accumulated final tokens, got %q", results[0].Transcription)
	}
	if results[0].SourceLanguage != "en" {
		t.Fatalf("expected source language sticky from first token, got %q", results[0].SourceLanguage)
	}
}

func TestReassemblerEndTokenEmitsFinalAndResets(t *testing.T) {
	r := newReassembler("en", false)
	r.feed(message{Tokens: []token{{Text: "hello", IsFinal: true}}})

	results, end, err := r.feed(message{Tokens: []token{{Text: "<end>", IsFinal: true}}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !end {
		t.Fatalf("expected end-of-utterance to be reported")
	}
	if len(results) != 2 {
		t.Fatalf("expected progress + final result, got %d", len(results))
	}
	final := results[1]
	if !final.IsFinal || final.Transcription != "hello" {
		t.Fatalf("unexpected final result: %+v", final)
	}

	// accumulators must reset: a fresh final-only message starts clean
	results, _, _ = r.feed(message{Tokens: []token{{Text: "next", IsFinal: true}}})
	if results[0].Transcription != "next" {
		t.Fatalf("expected reassembler state reset after <end>, got %q", results[0].Transcription)
	}
}

func TestReassemblerFinishedFlagEmitsFinal(t *testing.T) {
	r := newReassembler("en", false)
	r.feed(message{Tokens: []token{{Text: "hello", IsFinal: true}}})

	results, _, err := r.feed(message{Finished: true})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(results) != 2 || !results[1].IsFinal || results[1].Transcription != "hello" {
		t.Fatalf("expected final result from finished flag: %+v", results)
	}
}

func TestReassemblerTranslationTokensSeparateFromTranscription(t *testing.T) {
	r := newReassembler("en", false)
	results, _, err := r.feed(message{Tokens: []token{
		{Text: "bonjour", IsFinal: false, Language: "fr"},
		{Text: "hello", IsFinal: false, TranslationStatus: "translation", Language: "en"},
	}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if results[0].Transcription != "bonjour" || results[0].Translation != "hello" {
		t.Fatalf("unexpected split: %+v", results[0])
	}
}

func TestReassemblerErrorCodeClassification(t *testing.T) {
	r := newReassembler("en", false)
	code := 503

	_, _, err := r.feed(message{ErrorCode: &code, ErrorMessage: "Cannot continue request: overloaded"})
	if !IsConnection(err) {
		t.Fatalf("expected connection error, got %v", err)
	}

	_, _, err = r.feed(message{ErrorCode: &code, ErrorMessage: "bad api key"})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReassemblerSpeakerDiarizationPrefix(t *testing.T) {
	r := newReassembler("en", true)
	results, _, _ := r.feed(message{Tokens: []token{{Text: "hi", IsFinal: false, Speaker: "1"}}})
	if results[0].Speaker != "Speaker 1" {
		t.Fatalf("expected diarization prefix, got %q", results[0].Speaker)
	}
}

func TestReassemblerTargetLanguageFallsBackToConfigured(t *testing.T) {
	r := newReassembler("es", false)
	results, _, _ := r.feed(message{Tokens: []token{{Text: "hi", IsFinal: false}}})
	if results[0].TargetLanguage != "es" {
		t.Fatalf("expected configured target language fallback, got %q", results[0].TargetLanguage)
	}
}
