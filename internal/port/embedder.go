package port

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	// Embed returns a deterministic vector for the given text.
	Embed(text string) []float32

	// Dimension returns the embedding vector dimension.
	Dimension() int
}
