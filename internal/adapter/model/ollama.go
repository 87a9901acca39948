// Package model provides language-model collaborators implementing the
// prefill/generate contract.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragserve/internal/domain"
	"ragserve/internal/port"
)

// Ollama streams generations from a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (o *Ollama) ModelName() string { return o.model }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Raw     bool           `json:"raw"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

type ollamaState struct {
	prompt string
}

// Prefill validates the prompt and captures it as the conversation state.
// Ollama fuses prefill and decode into one call, so the heavy work happens
// in Generate.
func (o *Ollama) Prefill(_ context.Context, prompt string) (port.ModelState, error) {
	if prompt == "" {
		return nil, domain.Errf(domain.KindInvalidRequest, "empty prompt")
	}
	return &ollamaState{prompt: prompt}, nil
}

// Generate streams tokens, invoking onToken per fragment until the model
// stops or onToken returns false.
func (o *Ollama) Generate(ctx context.Context, state port.ModelState, cfg domain.GenerateConfig, onToken func(string) bool) (domain.Usage, error) {
	st, ok := state.(*ollamaState)
	if !ok {
		return domain.Usage{}, domain.Errf(domain.KindInternal, "invalid model state")
	}

	opts := map[string]any{
		"num_predict":    cfg.MaxNewTokens,
		"temperature":    cfg.Temperature,
		"top_p":          cfg.TopP,
		"top_k":          cfg.TopK,
		"repeat_penalty": cfg.RepetitionPenalty,
	}
	if !cfg.DoSample {
		opts["temperature"] = 0.0
	}

	body, err := json.Marshal(ollamaRequest{
		Model:   o.model,
		Prompt:  st.prompt,
		Raw:     true,
		Stream:  true,
		Options: opts,
	})
	if err != nil {
		return domain.Usage{}, domain.Wrap(domain.KindInternal, err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return domain.Usage{}, domain.Wrap(domain.KindInternal, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return domain.Usage{}, domain.Wrap(domain.KindExternalTool, err, "model request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Usage{}, domain.Errf(domain.KindExternalTool,
			"model API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var usage domain.Usage
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaResponse
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return usage, domain.Wrap(domain.KindExternalTool, err, "failed to decode model response")
		}
		if chunk.Response != "" {
			if !onToken(chunk.Response) {
				return usage, nil
			}
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
			break
		}
	}
	return usage, nil
}

// ApplyChatTemplate renders messages in ChatML form and opens the assistant
// turn. When thinking is disabled an empty think block is appended so
// reasoning models skip deliberation.
func (o *Ollama) ApplyChatTemplate(messages []domain.Message, enableThinking bool) string {
	return RenderChatML(messages, enableThinking)
}

// RenderChatML is the shared prompt renderer for ChatML-style models.
func RenderChatML(messages []domain.Message, enableThinking bool) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "<|im_start|>%s\n%s<|im_end|>\n", m.Role, m.Content)
	}
	sb.WriteString("<|im_start|>assistant\n")
	if !enableThinking {
		sb.WriteString("<think>\n\n</think>\n\n")
	}
	return sb.String()
}
