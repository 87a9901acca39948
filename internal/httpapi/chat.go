package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/logx"
	"ragserve/internal/usecase"
)

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`

	RagMode    string             `json:"rag_mode"`
	RagEnable  *bool              `json:"rag_enable"`
	RagTopK    int                `json:"rag_top_k"`
	RagPayload *domain.RagPayload `json:"rag_payload"`

	EnableThinking    *bool    `json:"enable_thinking"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       *float64 `json:"temperature"`
	TopP              *float64 `json:"top_p"`
	TopK              *int     `json:"top_k"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
	BeamSize          int      `json:"beam_size"`
	DoSample          *bool    `json:"do_sample"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      *domain.Message `json:"message,omitempty"`
	Delta        *domain.Message `json:"delta,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

type chatEnvelope struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []chatChoice       `json:"choices"`
	Usage   *domain.Usage      `json:"usage,omitempty"`
	Mem     map[string]any     `json:"mem,omitempty"`
	Rag     *domain.RagPayload `json:"rag,omitempty"`
}

func (r *chatRequest) generateConfig(defaults domain.GenerateConfig) domain.GenerateConfig {
	cfg := defaults
	if r.MaxTokens > 0 {
		cfg.MaxNewTokens = r.MaxTokens
	}
	if r.Temperature != nil {
		cfg.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		cfg.TopP = *r.TopP
	}
	if r.TopK != nil {
		cfg.TopK = *r.TopK
	}
	if r.RepetitionPenalty != nil {
		cfg.RepetitionPenalty = *r.RepetitionPenalty
	}
	if r.BeamSize > 0 {
		cfg.BeamSize = r.BeamSize
	}
	if r.DoSample != nil {
		cfg.DoSample = *r.DoSample
	} else if cfg.Temperature <= 0 {
		// Zero temperature with no explicit do_sample means greedy decoding.
		cfg.DoSample = false
	}
	if r.EnableThinking != nil {
		cfg.EnableThinking = *r.EnableThinking
	}
	return cfg
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "invalid JSON body"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "messages must not be empty"))
		return
	}

	messages := req.Messages
	var rag domain.RagPayload
	if s.ready() && s.prep != nil {
		messages, rag = s.prep.Prepare(req.Messages, usecase.PrepareOptions{
			UseRag:        req.RagEnable,
			ClientContext: req.RagMode == "client",
			ClientPayload: req.RagPayload,
			TopK:          req.RagTopK,
		})
	} else {
		rag = domain.RagPayload{Enabled: false, Error: s.opts.StoreErr}
	}

	cfg := req.generateConfig(s.opts.GenDefaults)
	prompt := s.model.ApplyChatTemplate(messages, cfg.EnableThinking)

	id := "chatcmpl-" + uuid.NewString()
	modelName := req.Model
	if modelName == "" {
		modelName = s.model.ModelName()
	}

	if req.Stream {
		s.streamCompletion(w, r, id, modelName, prompt, cfg, &rag)
		return
	}

	var out strings.Builder
	usage, err := s.generate(r, prompt, cfg, func(tok string) bool {
		out.WriteString(tok)
		return true
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	stop := "stop"
	writeJSON(w, http.StatusOK, chatEnvelope{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []chatChoice{{
			Message:      &domain.Message{Role: "assistant", Content: textenc.SanitizeStrict(out.String())},
			FinishReason: &stop,
		}},
		Usage: &usage,
		Mem:   memStats(),
		Rag:   &rag,
	})
}

// generate runs prefill+generate under the model lock. The store lock is
// never held here: retrieval finished before this point.
func (s *Server) generate(r *http.Request, prompt string, cfg domain.GenerateConfig, onToken func(string) bool) (domain.Usage, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	start := time.Now()
	state, err := s.model.Prefill(r.Context(), prompt)
	if err != nil {
		return domain.Usage{}, err
	}
	usage, err := s.model.Generate(r.Context(), state, cfg, onToken)
	if err != nil {
		return usage, err
	}
	logx.Info("chat.generate.done", "prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens, "elapsed_ms", time.Since(start).Milliseconds())
	return usage, nil
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, id, modelName, prompt string, cfg domain.GenerateConfig, rag *domain.RagPayload) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.Errf(domain.KindInternal, "streaming unsupported by connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	created := time.Now().Unix()
	sendFrame := func(env chatEnvelope) bool {
		data, err := json.Marshal(env)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	sendFrame(chatEnvelope{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []chatChoice{{Delta: &domain.Message{Role: "assistant"}}},
	})

	usage, err := s.generate(r, prompt, cfg, func(tok string) bool {
		return sendFrame(chatEnvelope{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
			Choices: []chatChoice{{Delta: &domain.Message{Content: textenc.SanitizeStrict(tok)}}},
		})
	})
	if err != nil {
		// Headers are gone; the best we can do is surface the error in-band.
		sendFrame(chatEnvelope{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
			Choices: []chatChoice{{Delta: &domain.Message{Content: "\n[error] " + err.Error()}}},
		})
	}

	stop := "stop"
	sendFrame(chatEnvelope{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []chatChoice{{Delta: &domain.Message{}, FinishReason: &stop}},
		Usage:   &usage,
		Mem:     memStats(),
		Rag:     rag,
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func memStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"alloc_bytes": m.Alloc,
		"sys_bytes":   m.Sys,
		"num_gc":      m.NumGC,
	}
}
