package usecase

import (
	"path/filepath"
	"strings"
	"testing"

	"ragserve/internal/adapter/embedding"
	"ragserve/internal/adapter/store"
)

func newTestRetriever(t *testing.T) (*Retriever, *store.SQLiteStore) {
	t.Helper()
	emb := embedding.NewHashedEmbedder(4096)
	st, err := store.Open(filepath.Join(t.TempDir(), "rag.db"), emb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return &Retriever{Store: st, Embedder: emb}, st
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r, _ := newTestRetriever(t)
	hits, err := r.Retrieve("   \n", RetrieveOptions{TopK: 4})
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Errorf("whitespace query should retrieve nothing, got %d hits", len(hits))
	}
}

func TestRetrieveWithoutNeighbors(t *testing.T) {
	r, st := newTestRetriever(t)
	if _, _, err := st.AddDocument("a.txt", "text/plain", "apple banana\n\ncherry melon", 512); err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve("apple banana", RetrieveOptions{TopK: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Text != "apple banana" {
		t.Errorf("top hit text = %q", hits[0].Text)
	}
}

func TestRetrieveMergesOverlappingWindows(t *testing.T) {
	r, st := newTestRetriever(t)

	// Five chunks; querying terms of chunks 1 and 2 with one neighbor each
	// produces windows [0,2] and [1,3], which must merge into one block.
	text := "alpha alpha\n\nbravo bravo\n\ncharlie charlie\n\ndelta delta\n\necho echo"
	if _, _, err := st.AddDocument("doc.txt", "text/plain", text, 512); err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve("bravo charlie", RetrieveOptions{TopK: 4, NeighborChunks: 1, ChunkMaxChars: 4096})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("overlapping windows should merge into 1 hit, got %d", len(hits))
	}
	for _, label := range []string{"alpha alpha", "bravo bravo", "charlie charlie", "delta delta"} {
		if strings.Count(hits[0].Text, label) != 1 {
			t.Errorf("merged text should contain %q exactly once:\n%s", label, hits[0].Text)
		}
	}
	if strings.Contains(hits[0].Text, "echo echo") {
		t.Errorf("chunk outside the merged window leaked in:\n%s", hits[0].Text)
	}
	if !strings.Contains(hits[0].Text, "(matched chunk") {
		t.Errorf("expanded text should label the matched chunk:\n%s", hits[0].Text)
	}
}

func TestRetrieveNoChunkRepeats(t *testing.T) {
	r, st := newTestRetriever(t)

	var blocks []string
	words := []string{"ant", "bee", "cat", "dog", "eel", "fox", "gnu", "hen"}
	for _, w := range words {
		blocks = append(blocks, w+" "+w+" "+w)
	}
	if _, _, err := st.AddDocument("zoo.txt", "text/plain", strings.Join(blocks, "\n\n"), 512); err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve("bee cat fox", RetrieveOptions{TopK: 8, NeighborChunks: 2, ChunkMaxChars: 65536})
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[string]int)
	for _, h := range hits {
		for _, w := range words {
			counts[w] += strings.Count(h.Text, w+" "+w+" "+w)
		}
	}
	for w, n := range counts {
		if n > 1 {
			t.Errorf("chunk %q appears %d times across expanded hits", w, n)
		}
	}
}

func TestRetrieveTruncatesExpandedText(t *testing.T) {
	r, st := newTestRetriever(t)
	text := strings.Repeat("kiwi ", 100) + "\n\n" + strings.Repeat("plum ", 100)
	if _, _, err := st.AddDocument("long.txt", "text/plain", text, 512); err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve("kiwi", RetrieveOptions{TopK: 2, NeighborChunks: 1, ChunkMaxChars: 64})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected a hit")
	}
	if len(hits[0].Text) > 64 {
		t.Errorf("expanded text %d bytes exceeds limit", len(hits[0].Text))
	}
}

func TestRetrieveScoreOrder(t *testing.T) {
	r, st := newTestRetriever(t)
	if _, _, err := st.AddDocument("a.txt", "text/plain", "apple apple apple", 512); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.AddDocument("b.txt", "text/plain", "apple grape melon", 512); err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve("apple", RetrieveOptions{TopK: 4, NeighborChunks: 1, ChunkMaxChars: 4096})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits out of score order: %f before %f", hits[i-1].Score, hits[i].Score)
		}
	}
}
