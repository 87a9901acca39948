package model

import (
	"context"
	"strings"

	"ragserve/internal/domain"
	"ragserve/internal/port"
)

// Scripted is a deterministic offline model: it replies with a fixed script
// split into word tokens. Used by tests and the demo mode when no model
// backend is configured.
type Scripted struct {
	Name   string
	Script string
}

func NewScripted(script string) *Scripted {
	if script == "" {
		script = "This is a scripted response; no model backend is configured."
	}
	return &Scripted{Name: "scripted", Script: script}
}

func (m *Scripted) ModelName() string { return m.Name }

type scriptedState struct {
	prompt string
}

func (m *Scripted) Prefill(_ context.Context, prompt string) (port.ModelState, error) {
	if prompt == "" {
		return nil, domain.Errf(domain.KindInvalidRequest, "empty prompt")
	}
	return &scriptedState{prompt: prompt}, nil
}

func (m *Scripted) Generate(_ context.Context, state port.ModelState, cfg domain.GenerateConfig, onToken func(string) bool) (domain.Usage, error) {
	st, ok := state.(*scriptedState)
	if !ok {
		return domain.Usage{}, domain.Errf(domain.KindInternal, "invalid model state")
	}

	words := strings.SplitAfter(m.Script, " ")
	limit := cfg.MaxNewTokens
	if limit <= 0 || limit > len(words) {
		limit = len(words)
	}
	emitted := 0
	for _, w := range words[:limit] {
		if !onToken(w) {
			break
		}
		emitted++
	}
	return domain.Usage{
		PromptTokens:     len(strings.Fields(st.prompt)),
		CompletionTokens: emitted,
	}, nil
}

func (m *Scripted) ApplyChatTemplate(messages []domain.Message, enableThinking bool) string {
	return RenderChatML(messages, enableThinking)
}
