package sttclient

import "strings"

// reassembler accumulates final tokens across messages (upstream sends
// finalized tokens exactly once, incrementally) and recomputes the
// non-final tail from scratch on every message, matching how the upstream
// protocol reports progress within an utterance.
type reassembler struct {
	targetLanguage           string
	enableSpeakerDiarization bool

	finalTranscriptionTokens []string
	finalTranslationTokens   []string
	finalSourceLanguage      string
	finalTranslationLanguage string
	finalSpeaker             string
}

func newReassembler(targetLanguage string, enableSpeakerDiarization bool) *reassembler {
	return &reassembler{
		targetLanguage:           targetLanguage,
		enableSpeakerDiarization: enableSpeakerDiarization,
	}
}

// feed processes one decoded message and returns the Results it produces:
// always a non-final progress Result (unless the message carried an error),
// plus a final Result if the message contained an <end> token or a
// top-level finished flag. endOfUtterance reports whether an <end> token
// was seen (the finished flag additionally signals end-of-session to the
// caller, which decides whether to stop reading).
func (r *reassembler) feed(m message) (results []Result, endOfUtterance bool, err error) {
	if m.ErrorCode != nil {
		msg := m.ErrorMessage
		if strings.Contains(msg, "Cannot continue request") {
			return nil, false, connectionError(msg, nil)
		}
		return nil, false, fatalError(msg, nil)
	}

	var nonFinalTranscription, nonFinalTranslation []string
	var nonFinalSourceLang, nonFinalTargetLang, nonFinalSpeaker string
	isEndToken := false

	for _, t := range m.Tokens {
		if t.Text == "" {
			continue
		}
		if t.Text == "<end>" && t.IsFinal {
			isEndToken = true
			continue
		}

		isTranslation := t.TranslationStatus == "translation"
		spk := t.Speaker
		if spk != "" && r.enableSpeakerDiarization {
			spk = "Speaker " + spk
		}

		if t.IsFinal {
			if isTranslation {
				r.finalTranslationTokens = append(r.finalTranslationTokens, t.Text)
				if r.finalTranslationLanguage == "" && t.Language != "" {
					r.finalTranslationLanguage = t.Language
				}
			} else {
				r.finalTranscriptionTokens = append(r.finalTranscriptionTokens, t.Text)
				if r.finalSourceLanguage == "" && t.Language != "" {
					r.finalSourceLanguage = t.Language
				}
				if spk != "" {
					r.finalSpeaker = spk
				}
			}
			continue
		}

		if isTranslation {
			nonFinalTranslation = append(nonFinalTranslation, t.Text)
			if nonFinalTargetLang == "" && t.Language != "" {
				nonFinalTargetLang = t.Language
			}
		} else {
			nonFinalTranscription = append(nonFinalTranscription, t.Text)
			if nonFinalSourceLang == "" && t.Language != "" {
				nonFinalSourceLang = t.Language
			}
			if spk != "" {
				nonFinalSpeaker = spk
			}
		}
	}

	fullTranscription := strings.TrimSpace(strings.Join(r.finalTranscriptionTokens, "") + " " + strings.Join(nonFinalTranscription, ""))
	fullTranslation := strings.TrimSpace(strings.Join(r.finalTranslationTokens, "") + " " + strings.Join(nonFinalTranslation, ""))

	sourceLang := r.finalSourceLanguage
	if sourceLang == "" {
		sourceLang = nonFinalSourceLang
	}
	targetLang := r.finalTranslationLanguage
	if targetLang == "" {
		targetLang = nonFinalTargetLang
	}
	if targetLang == "" {
		targetLang = r.targetLanguage
	}
	speaker := r.finalSpeaker
	if speaker == "" {
		speaker = nonFinalSpeaker
	}

	results = append(results, Result{
		Transcription:  fullTranscription,
		Translation:    fullTranslation,
		IsFinal:        false,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Speaker:        speaker,
	})

	if isEndToken {
		results = append(results, r.drainFinal())
	}

	if m.Finished {
		results = append(results, r.drainFinal())
	}

	return results, isEndToken, nil
}

// drainFinal emits the accumulated final tokens as a completed-utterance
// Result and resets the accumulators for the next utterance.
func (r *reassembler) drainFinal() Result {
	res := Result{
		Transcription:  strings.TrimSpace(strings.Join(r.finalTranscriptionTokens, "")),
		Translation:    strings.TrimSpace(strings.Join(r.finalTranslationTokens, "")),
		IsFinal:        true,
		SourceLanguage: r.finalSourceLanguage,
		TargetLanguage: firstNonEmpty(r.finalTranslationLanguage, r.targetLanguage),
		Speaker:        r.finalSpeaker,
	}
	r.finalTranscriptionTokens = nil
	r.finalTranslationTokens = nil
	r.finalSourceLanguage = ""
	r.finalTranslationLanguage = ""
	r.finalSpeaker = ""
	return res
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
