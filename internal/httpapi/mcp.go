package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/logx"
	"ragserve/internal/usecase"
)

const defaultSearchTopK = 4

// toolDescriptor follows the MCP tool listing shape.
type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) handleMCPToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []toolDescriptor{{
		Name:        "rag_search",
		Description: "Search the local document index and return the most relevant text chunks with sources.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": "Number of chunks to return.",
					"minimum":     1,
					"maximum":     10,
				},
			},
			"required": []string{"query"},
		},
	}})
}

type toolCallRequest struct {
	Name      string `json:"name"`
	Arguments struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	} `json:"arguments"`
}

func (s *Server) handleMCPToolsCall(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, r, s.notReadyErr())
		return
	}

	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "invalid JSON body"))
		return
	}
	if req.Name != "rag_search" {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "unsupported tool %q", req.Name))
		return
	}
	if req.Arguments.Query == "" {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "missing required argument 'query'"))
		return
	}
	topK := req.Arguments.TopK
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	if topK > 10 {
		topK = 10
	}

	start := time.Now()
	opts := s.prep.Opts
	opts.TopK = topK
	hits, err := s.retr.Retrieve(req.Arguments.Query, opts)
	elapsed := time.Since(start)

	trace := []string{}
	if err != nil {
		trace = append(trace, err.Error())
		hits = nil
	}

	chunks := make([]domain.RagChunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, domain.RagChunk{
			Source:     textenc.SanitizeStrict(h.Source),
			Score:      h.Score,
			Text:       textenc.SanitizeStrict(h.Text),
			DocID:      h.DocID,
			ChunkIndex: h.ChunkIndex,
			URL:        fmt.Sprintf("/rag/doc/%d#chunk-%d", h.DocID, h.ChunkIndex),
		})
	}

	logx.Info("mcp.rag_search", "query_len", len(req.Arguments.Query), "top_k", topK,
		"hits", len(chunks), "elapsed_ms", elapsed.Milliseconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "rag_search",
		"result": map[string]any{
			"query":      req.Arguments.Query,
			"top_k":      topK,
			"elapsed_ms": elapsed.Milliseconds(),
			"trace":      trace,
			"chunks":     chunks,
			"context":    usecase.ContextBlock(hits),
		},
	})
}
