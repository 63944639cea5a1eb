package correction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaModel calls a local Ollama-compatible chat endpoint with a
// correction model and parses the structured verdict out of its reply.
//
// The model is prompted with a JSON object of {context, target_sentence}
// and is expected to reply with a JSON object of
// {is_correction_needed, corrected_sentence, reasoning}, but real models
// wrap that in prose fairly often, so the response is scanned for the
// outermost {...} span rather than parsed as strict JSON from the first
// byte.
type OllamaModel struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaModel builds a correction Model against an Ollama-compatible
// /api/chat endpoint.
func NewOllamaModel(baseURL, model string) *OllamaModel {
	if model == "" {
		model = "correction"
	}
	return &OllamaModel{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: http.DefaultClient}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

type correctionVerdict struct {
	IsCorrectionNeeded bool   `json:"is_correction_needed"`
	CorrectedSentence  string `json:"corrected_sentence"`
	Reasoning          string `json:"reasoning"`
}

// Correct implements Model.
func (m *OllamaModel) Correct(ctx context.Context, text string, contextHistory []string) (Result, error) {
	promptData := map[string]string{
		"context":         strings.Join(contextHistory, " "),
		"target_sentence": text,
	}
	prompt, err := json.Marshal(promptData)
	if err != nil {
		return Result{}, fmt.Errorf("marshal correction prompt: %w", err)
	}

	reqBody := ollamaChatRequest{
		Model: m.model,
		Messages: []ollamaChatMessage{
			{Role: "user", Content: string(prompt)},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fallback(text, "ollama request error"), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fallback(text, fmt.Sprintf("ollama returned status %d", resp.StatusCode)), nil
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return fallback(text, "ollama response decode error"), nil
	}

	verdict, ok := extractVerdict(chatResp.Message.Content)
	if !ok {
		return fallback(text, "JSON decode error"), nil
	}

	return Result{
		IsCorrectionNeeded: verdict.IsCorrectionNeeded,
		CorrectedSentence:  verdict.CorrectedSentence,
		Reasoning:          verdict.Reasoning,
	}, nil
}

// extractVerdict scans content for the outermost {...} span and parses it
// as a correctionVerdict. If the model never closes its brace, one is
// appended before parsing, mirroring the leniency real correction prompts
// need when the model trails off mid-object.
func extractVerdict(content string) (correctionVerdict, bool) {
	start := strings.Index(content, "{")
	if start == -1 {
		return correctionVerdict{}, false
	}
	end := strings.LastIndex(content, "}")

	var candidate string
	if end != -1 && end > start {
		candidate = content[start : end+1]
	} else {
		candidate = content[start:] + "}"
	}

	var verdict correctionVerdict
	if err := json.Unmarshal([]byte(candidate), &verdict); err != nil {
		return correctionVerdict{}, false
	}
	return verdict, true
}

func fallback(original, reason string) Result {
	return Result{
		IsCorrectionNeeded: false,
		CorrectedSentence:  original,
		Reasoning:          reason,
	}
}
