package port

import (
	"context"

	"ragserve/internal/domain"
)

// ModelState is the opaque conversation state returned by Prefill.
type ModelState interface{}

// Model is the external language-model collaborator. Prefill ingests the
// prompt; Generate streams tokens until a stop criterion or until onToken
// returns false (dropped client).
type Model interface {
	Prefill(ctx context.Context, prompt string) (ModelState, error)

	Generate(ctx context.Context, state ModelState, cfg domain.GenerateConfig, onToken func(token string) bool) (domain.Usage, error)

	// ApplyChatTemplate renders messages into the model's prompt format.
	ApplyChatTemplate(messages []domain.Message, enableThinking bool) string

	ModelName() string
}
