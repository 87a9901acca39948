package port

import "ragserve/internal/domain"

// DocStore is the durable home of documents, chunks and their vectors.
// Implementations must expose a linearizable view: every operation observes
// the effects of all previously committed mutations.
type DocStore interface {
	// AddDocument chunks text, embeds each chunk and commits everything in
	// one transaction. Returns the new document id and its chunk count.
	AddDocument(filename, mime, text string, chunkChars int) (docID int64, chunkCount int, err error)

	// DeleteDoc removes a document with all its chunks and vectors.
	DeleteDoc(docID int64) error

	// Search scans all stored vectors and returns up to topK hits ordered by
	// descending dot product, dropping non-positive scores.
	Search(query []float32, topK int) ([]domain.SearchHit, error)

	// ExpandRange concatenates the texts of chunks [start,end] of a document,
	// labeling the center chunk as the match. Empty string if no rows.
	ExpandRange(docID int64, start, end, center int) (string, error)

	// GetDocumentChunks returns the filename and all chunks of a document in
	// chunk-index order.
	GetDocumentChunks(docID int64) (string, []domain.Chunk, error)

	// ListDocs returns document rows ordered by id descending.
	ListDocs(limit, offset int) ([]domain.DocInfo, error)

	// Counts returns the cached document and chunk totals.
	Counts() (docs, chunks int)

	Close() error
}
