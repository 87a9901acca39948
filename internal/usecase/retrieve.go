package usecase

import (
	"sort"
	"strings"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/logx"
	"ragserve/internal/port"
)

// RetrieveOptions tunes one retrieval pass.
type RetrieveOptions struct {
	TopK           int
	NeighborChunks int
	ChunkMaxChars  int
}

// Retriever runs the embed, search and neighbor-expansion pipeline.
type Retriever struct {
	Store    port.DocStore
	Embedder port.Embedder
}

// chunkRange is a candidate [Start,End] window of one document's chunks.
// Source, Center and Score come from the highest-scoring hit inside it.
type chunkRange struct {
	DocID  int64
	Start  int
	End    int
	Center int
	Source string
	Score  float64
}

// Retrieve returns the hits for query, each optionally expanded with its
// neighboring chunks. Overlapping or adjacent windows of the same document
// are merged so no chunk text is returned twice.
func (r *Retriever) Retrieve(query string, opt RetrieveOptions) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec := r.Embedder.Embed(query)
	hits, err := r.Store.Search(vec, opt.TopK)
	if err != nil {
		return nil, err
	}
	logx.Debug("rag.search", "query_len", len(query), "top_k", opt.TopK, "hits", len(hits))
	if len(hits) == 0 || opt.NeighborChunks <= 0 {
		return hits, nil
	}

	ranges := make([]chunkRange, 0, len(hits))
	for _, h := range hits {
		start := h.ChunkIndex - opt.NeighborChunks
		if start < 0 {
			start = 0
		}
		ranges = append(ranges, chunkRange{
			DocID:  h.DocID,
			Start:  start,
			End:    h.ChunkIndex + opt.NeighborChunks,
			Center: h.ChunkIndex,
			Source: h.Source,
			Score:  h.Score,
		})
	}
	sort.Slice(ranges, func(i, j int) bool {
		a, b := ranges[i], ranges[j]
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})

	merged := ranges[:1]
	for _, rg := range ranges[1:] {
		last := &merged[len(merged)-1]
		if rg.DocID == last.DocID && rg.Start <= last.End+1 {
			if rg.End > last.End {
				last.End = rg.End
			}
			if rg.Score > last.Score {
				last.Center = rg.Center
				last.Source = rg.Source
				last.Score = rg.Score
			}
			continue
		}
		merged = append(merged, rg)
	}

	out := make([]domain.SearchHit, 0, len(merged))
	for _, rg := range merged {
		text, err := r.Store.ExpandRange(rg.DocID, rg.Start, rg.End, rg.Center)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		if opt.ChunkMaxChars > 0 {
			text = textenc.TruncateRunes(text, opt.ChunkMaxChars)
		}
		out = append(out, domain.SearchHit{
			DocID:      rg.DocID,
			ChunkIndex: rg.Center,
			Source:     rg.Source,
			Text:       text,
			Score:      rg.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
