// Package store persists documents, chunks and embeddings in a single SQLite
// database file and serves exact linear similarity search over it.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ragserve/internal/adapter/chunker"
	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/port"
)

// hitTextMax caps the text carried by a search hit.
const hitTextMax = 520

// SQLiteStore owns all persistent entities. A single mutex guards every
// operation; linear scans dominate latency and writes are rare, so finer
// locking buys nothing observable.
type SQLiteStore struct {
	mu       sync.Mutex
	db       *sql.DB
	embedder port.Embedder

	docCount   int
	chunkCount int
}

// Open opens or creates the store at path. The embedder's dimension is
// pinned into the meta table on first open; a later open with a different
// dimension fails.
func Open(path string, embedder port.Embedder) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err, "failed to open database")
	}
	// One connection keeps transactions and the WAL writer on a single
	// handle; the store mutex serializes callers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, embedder: embedder}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadCounts(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS meta(key TEXT PRIMARY KEY, value TEXT);`,
		`CREATE TABLE IF NOT EXISTS docs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT,
			mime TEXT,
			added_at INTEGER,
			chunk_count INTEGER);`,
		`CREATE TABLE IF NOT EXISTS chunks(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id INTEGER,
			chunk_index INTEGER,
			source TEXT,
			text TEXT);`,
		`CREATE TABLE IF NOT EXISTS vectors(
			chunk_id INTEGER PRIMARY KEY,
			dim INTEGER,
			vec BLOB);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return domain.Wrap(domain.KindStorage, err, "failed to create schema")
		}
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key='embed_dim'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES('embed_dim', ?)`,
			strconv.Itoa(s.embedder.Dimension()))
		if err != nil {
			return domain.Wrap(domain.KindStorage, err, "failed to store embed_dim")
		}
	case err != nil:
		return domain.Wrap(domain.KindStorage, err, "failed to read embed_dim")
	default:
		dim, _ := strconv.Atoi(stored)
		if dim > 0 && dim != s.embedder.Dimension() {
			return domain.Errf(domain.KindStorage,
				"embedding dim mismatch in existing database (stored %d, requested %d)",
				dim, s.embedder.Dimension())
		}
	}
	return nil
}

func (s *SQLiteStore) loadCounts() error {
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM docs`).Scan(&s.docCount); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to count docs")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&s.chunkCount); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to count chunks")
	}
	return nil
}

// Counts returns the cached totals, consistent with the last committed
// mutation.
func (s *SQLiteStore) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docCount, s.chunkCount
}

// AddDocument chunks text, embeds every chunk and commits the document, its
// chunks and vectors in one transaction.
func (s *SQLiteStore) AddDocument(filename, mime, text string, chunkChars int) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := chunker.SplitText(text, chunkChars)
	if len(chunks) == 0 {
		return 0, 0, domain.Errf(domain.KindInvalidRequest, "no text chunks generated")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO docs(filename, mime, added_at, chunk_count) VALUES(?, ?, ?, ?)`,
		filename, mime, time.Now().Unix(), len(chunks))
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to insert document")
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to read document id")
	}

	insChunk, err := tx.Prepare(`INSERT INTO chunks(doc_id, chunk_index, source, text) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to prepare chunk insert")
	}
	defer insChunk.Close()
	insVec, err := tx.Prepare(`INSERT INTO vectors(chunk_id, dim, vec) VALUES(?, ?, ?)`)
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to prepare vector insert")
	}
	defer insVec.Close()

	for idx, chunk := range chunks {
		source := filename + "#" + strconv.Itoa(idx)
		res, err := insChunk.Exec(docID, idx, source, chunk)
		if err != nil {
			return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to insert chunk")
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to read chunk id")
		}
		vec := s.embedder.Embed(chunk)
		if _, err := insVec.Exec(chunkID, len(vec), encodeVector(vec)); err != nil {
			return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to insert vector")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, domain.Wrap(domain.KindStorage, err, "failed to commit document")
	}

	s.docCount++
	s.chunkCount += len(chunks)
	return docID, len(chunks), nil
}

// DeleteDoc removes a document with its chunks and vectors. The cached
// counts are refreshed from the same transaction that deletes the rows.
func (s *SQLiteStore) DeleteDoc(docID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRow(`SELECT id FROM docs WHERE id = ?`, docID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.Errf(domain.KindNotFound, "document not found")
	}
	if err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to look up document")
	}

	if _, err := tx.Exec(`DELETE FROM vectors WHERE chunk_id IN (SELECT id FROM chunks WHERE doc_id = ?)`, docID); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to delete vectors")
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to delete chunks")
	}
	if _, err := tx.Exec(`DELETE FROM docs WHERE id = ?`, docID); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to delete document")
	}

	var docs, chunks int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM docs`).Scan(&docs); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to count docs")
	}
	if err := tx.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to count chunks")
	}

	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindStorage, err, "failed to commit delete")
	}

	s.docCount = docs
	s.chunkCount = chunks
	return nil
}

// Search scans every stored vector and returns the topK hits by dot product.
// Both sides are L2-normalized so the dot product is the cosine similarity;
// non-positive scores are dropped and ties keep insertion order.
func (s *SQLiteStore) Search(query []float32, topK int) ([]domain.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT chunks.source, chunks.text, vectors.vec, vectors.dim, chunks.doc_id, chunks.chunk_index
		FROM vectors JOIN chunks ON vectors.chunk_id = chunks.id
		ORDER BY chunks.id ASC`)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err, "failed to scan vectors")
	}
	defer rows.Close()

	var scored []domain.SearchHit
	for rows.Next() {
		var source, text string
		var blob []byte
		var dim, chunkIndex int
		var docID int64
		if err := rows.Scan(&source, &text, &blob, &dim, &docID, &chunkIndex); err != nil {
			return nil, domain.Wrap(domain.KindStorage, err, "failed to scan hit row")
		}
		if dim <= 0 || dim != len(query) || len(blob) != dim*4 {
			continue
		}

		var score float64
		for i := 0; i < dim; i++ {
			bits := binary.LittleEndian.Uint32(blob[i*4:])
			score += float64(query[i]) * float64(math.Float32frombits(bits))
		}
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.SearchHit{
			DocID:      docID,
			ChunkIndex: chunkIndex,
			Source:     source,
			Text:       text,
			Score:      score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindStorage, err, "failed to iterate hits")
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK < len(scored) {
		scored = scored[:topK]
	}
	for i := range scored {
		scored[i].Text = textenc.Shorten(scored[i].Text, hitTextMax)
	}
	return scored, nil
}

// ExpandRange concatenates the texts of chunks [start,end] of a document,
// labeling the one at center as the match. Empty string when no rows exist.
func (s *SQLiteStore) ExpandRange(docID int64, start, end, center int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if center < 0 {
		return "", nil
	}
	if start < 0 {
		start = 0
	}
	if end < start {
		return "", nil
	}

	rows, err := s.db.Query(`
		SELECT chunk_index, text FROM chunks
		WHERE doc_id = ? AND chunk_index BETWEEN ? AND ?
		ORDER BY chunk_index ASC`, docID, start, end)
	if err != nil {
		return "", domain.Wrap(domain.KindStorage, err, "failed to read chunk range")
	}
	defer rows.Close()

	var sb strings.Builder
	first := true
	for rows.Next() {
		var idx int
		var text string
		if err := rows.Scan(&idx, &text); err != nil {
			return "", domain.Wrap(domain.KindStorage, err, "failed to scan chunk row")
		}
		if !first {
			sb.WriteString("\n\n")
		}
		first = false
		if idx == center {
			fmt.Fprintf(&sb, "(matched chunk %d)\n", idx)
		} else {
			fmt.Fprintf(&sb, "(neighbor chunk %d)\n", idx)
		}
		sb.WriteString(text)
	}
	if err := rows.Err(); err != nil {
		return "", domain.Wrap(domain.KindStorage, err, "failed to iterate chunk range")
	}
	return sb.String(), nil
}

// GetDocumentChunks returns the filename and all chunks of a document in
// chunk-index order.
func (s *SQLiteStore) GetDocumentChunks(docID int64) (string, []domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filename string
	err := s.db.QueryRow(`SELECT filename FROM docs WHERE id = ?`, docID).Scan(&filename)
	if err == sql.ErrNoRows {
		return "", nil, domain.Errf(domain.KindNotFound, "document not found")
	}
	if err != nil {
		return "", nil, domain.Wrap(domain.KindStorage, err, "failed to look up document")
	}

	rows, err := s.db.Query(`
		SELECT id, chunk_index, source, text FROM chunks
		WHERE doc_id = ? ORDER BY chunk_index ASC`, docID)
	if err != nil {
		return "", nil, domain.Wrap(domain.KindStorage, err, "failed to read chunks")
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c := domain.Chunk{DocID: docID}
		if err := rows.Scan(&c.ID, &c.ChunkIndex, &c.Source, &c.Text); err != nil {
			return "", nil, domain.Wrap(domain.KindStorage, err, "failed to scan chunk")
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return "", nil, domain.Wrap(domain.KindStorage, err, "failed to iterate chunks")
	}
	return filename, chunks, nil
}

// ListDocs returns document rows ordered by id descending.
func (s *SQLiteStore) ListDocs(limit, offset int) ([]domain.DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT id, filename, mime, added_at, chunk_count FROM docs
		ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, err, "failed to list docs")
	}
	defer rows.Close()

	var docs []domain.DocInfo
	for rows.Next() {
		var d domain.DocInfo
		if err := rows.Scan(&d.ID, &d.Filename, &d.Mime, &d.AddedAt, &d.ChunkCount); err != nil {
			return nil, domain.Wrap(domain.KindStorage, err, "failed to scan doc row")
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindStorage, err, "failed to iterate docs")
	}
	return docs, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// encodeVector packs float32s as a contiguous little-endian blob.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}
