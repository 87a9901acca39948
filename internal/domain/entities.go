package domain

// DocInfo describes one ingested document as stored in the docs table.
type DocInfo struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Mime       string `json:"mime"`
	AddedAt    int64  `json:"added_at"`
	ChunkCount int    `json:"chunk_count"`
}

// Chunk is one retrieval unit of a document.
type Chunk struct {
	ID         int64  `json:"id"`
	DocID      int64  `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Source     string `json:"source"`
	Text       string `json:"text"`
}

// SearchHit is a chunk reference plus its cosine score.
type SearchHit struct {
	DocID      int64   `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Source     string  `json:"source"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RagChunk is the per-hit entry of a RagPayload.
type RagChunk struct {
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	DocID      int64   `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	URL        string  `json:"url"`
}

// RagPayload is the structured retrieval report attached to chat responses.
type RagPayload struct {
	Enabled    bool       `json:"enabled"`
	TopK       int        `json:"top_k"`
	DocCount   int        `json:"doc_count"`
	ChunkCount int        `json:"chunk_count"`
	Chunks     []RagChunk `json:"chunks"`
	Trace      []string   `json:"trace,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Usage reports token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerateConfig carries sampling options for the model collaborator.
type GenerateConfig struct {
	MaxNewTokens      int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	BeamSize          int
	DoSample          bool
	EnableThinking    bool
}

// DefaultGenerateConfig returns the sampling defaults used when the request
// leaves an option unset.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		MaxNewTokens:      512,
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              40,
		RepetitionPenalty: 1.1,
		BeamSize:          1,
		DoSample:          true,
	}
}
