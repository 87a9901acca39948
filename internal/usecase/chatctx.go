package usecase

import (
	"fmt"
	"strings"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/port"
)

const systemInstruction = "You are a helpful assistant. Answer using the provided context. " +
	"If the context does not contain the answer, say you do not know. " +
	"Keep responses concise and cite sources by their bracketed ids."

const defaultSystemPrompt = "You are a helpful assistant."

// ChatPreparer injects retrieved context into chat requests.
type ChatPreparer struct {
	Retriever *Retriever
	Store     port.DocStore
	Enabled   bool
	Opts      RetrieveOptions
}

// PrepareOptions carries the per-request retrieval switches.
type PrepareOptions struct {
	// UseRag overrides the server-wide setting when non-nil.
	UseRag *bool
	// ClientContext marks requests whose caller already performed retrieval
	// and embedded the context itself; the messages pass through untouched
	// and ClientPayload, when present, is echoed back verbatim.
	ClientContext bool
	ClientPayload *domain.RagPayload
	// TopK overrides the configured hit count when positive.
	TopK int
}

// Prepare retrieves context for the last user message and returns the
// augmented message list plus the structured retrieval report. Retrieval
// failures never fail the chat: the report carries the error and the
// messages pass through unchanged.
func (p *ChatPreparer) Prepare(messages []domain.Message, opt PrepareOptions) ([]domain.Message, domain.RagPayload) {
	docs, chunks := p.Store.Counts()
	payload := domain.RagPayload{
		Enabled:    p.Enabled,
		TopK:       p.Opts.TopK,
		DocCount:   docs,
		ChunkCount: chunks,
	}
	if opt.UseRag != nil {
		payload.Enabled = *opt.UseRag
	}
	if opt.TopK > 0 {
		payload.TopK = opt.TopK
	}

	if opt.ClientContext {
		messages = ensureSystem(messages)
		if opt.ClientPayload != nil {
			return messages, *opt.ClientPayload
		}
		payload.Enabled = false
		payload.Trace = append(payload.Trace, "client supplied its own context; retrieval skipped")
		return messages, payload
	}
	if !payload.Enabled {
		// No context suffix, but the instruction and the system merge still
		// apply.
		return injectSystem(messages, systemInstruction), payload
	}

	query := lastUserContent(messages)
	ropt := p.Opts
	ropt.TopK = payload.TopK
	hits, err := p.Retriever.Retrieve(query, ropt)
	if err != nil {
		payload.Error = err.Error()
		return messages, payload
	}

	for _, h := range hits {
		payload.Chunks = append(payload.Chunks, domain.RagChunk{
			Source:     textenc.SanitizeStrict(h.Source),
			Score:      h.Score,
			Text:       textenc.SanitizeStrict(h.Text),
			DocID:      h.DocID,
			ChunkIndex: h.ChunkIndex,
			URL:        fmt.Sprintf("/rag/doc/%d#chunk-%d", h.DocID, h.ChunkIndex),
		})
	}

	system := systemInstruction + "\n\nContext:\n" + ContextBlock(hits)
	return injectSystem(messages, system), payload
}

// ContextBlock renders hits as bracketed source blocks, 1-indexed so the
// model can cite "[1]".
func ContextBlock(hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return "(No relevant sources found.)"
	}
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] Source: %s\n%s\n\n",
			i+1, textenc.SanitizeStrict(h.Source), textenc.SanitizeStrict(h.Text))
	}
	return sb.String()
}

// injectSystem puts system at the head of the conversation. A system message
// the caller sent is preserved below the retrieval instructions.
func injectSystem(messages []domain.Message, system string) []domain.Message {
	out := make([]domain.Message, 0, len(messages)+1)
	for _, m := range messages {
		if m.Role == "system" {
			system = system + "\n\nOriginal system message:\n" + textenc.SanitizeStrict(m.Content)
			continue
		}
		out = append(out, m)
	}
	return append([]domain.Message{{Role: "system", Content: system}}, out...)
}

// ensureSystem inserts the default system turn when the conversation has
// none. Client-rag requests carry their own context, so the retrieval
// instruction is not forced on them.
func ensureSystem(messages []domain.Message) []domain.Message {
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	out := make([]domain.Message, 0, len(messages)+1)
	out = append(out, domain.Message{Role: "system", Content: defaultSystemPrompt})
	return append(out, messages...)
}

func lastUserContent(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
