package correction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// QwenTranslator retranslates corrected text via an OpenAI-compatible chat
// completions endpoint (DashScope's Qwen translation models), the way the
// session's correction pipeline re-derives a translation whenever the
// transcription itself gets rewritten.
type QwenTranslator struct {
	apiKey     string
	url        string
	model      string
	sourceLang string
	targetLang string
	client     *http.Client
}

// NewQwenTranslator builds a Translator against a DashScope-compatible
// endpoint.
func NewQwenTranslator(apiKey, baseURL, model, sourceLang, targetLang string) *QwenTranslator {
	if model == "" {
		model = "qwen-mt-turbo"
	}
	return &QwenTranslator{
		apiKey:     apiKey,
		url:        baseURL + "/chat/completions",
		model:      model,
		sourceLang: sourceLang,
		targetLang: targetLang,
		client:     http.DefaultClient,
	}
}

type qwenTranslationOptions struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type qwenRequest struct {
	Model              string                 `json:"model"`
	Messages           []ollamaChatMessage    `json:"messages"`
	TranslationOptions qwenTranslationOptions `json:"translation_options"`
}

// Translate implements Translator.
func (t *QwenTranslator) Translate(ctx context.Context, text string) (string, error) {
	prompt := "You are a translator. Your task is to translate the text in the [TEXT TO TRANSLATE] section. " +
		"Your response must contain ONLY the translation of the [TEXT TO TRANSLATE] and nothing else. " +
		"Do not include any other text in your response.\n\n[TEXT TO TRANSLATE]\n" + text

	payload := qwenRequest{
		Model: t.model,
		Messages: []ollamaChatMessage{
			{Role: "user", Content: prompt},
		},
		TranslationOptions: qwenTranslationOptions{
			SourceLang: t.sourceLang,
			TargetLang: t.targetLang,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal qwen request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "[Translation Error]", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "[Translation Error]", nil
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.Choices) == 0 {
		return "[Translation Error]", nil
	}

	return result.Choices[0].Message.Content, nil
}
