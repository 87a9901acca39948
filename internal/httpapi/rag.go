package httpapi

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
)

func (s *Server) handleRagInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"enabled":   s.prep != nil && s.prep.Enabled,
		"ready":     s.ready(),
		"embed_dim": s.opts.EmbedDim,
	}
	if !s.ready() {
		resp["doc_count"] = 0
		resp["chunk_count"] = 0
		resp["error"] = s.opts.StoreErr
		writeJSON(w, http.StatusOK, resp)
		return
	}
	docs, chunks := s.store.Counts()
	resp["doc_count"] = docs
	resp["chunk_count"] = chunks
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRagDocs(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, r, s.notReadyErr())
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, domain.Errf(domain.KindInvalidRequest, "invalid limit %q", v))
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	docs, err := s.store.ListDocs(limit, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	type docEntry struct {
		domain.DocInfo
		URL string `json:"url"`
	}
	out := make([]docEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, docEntry{DocInfo: d, URL: fmt.Sprintf("/rag/doc/%d", d.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": out})
}

func (s *Server) handleRagDocPage(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, r, s.notReadyErr())
		return
	}
	docID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "invalid document id"))
		return
	}

	filename, chunks, err := s.store.GetDocumentChunks(docID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var sb strings.Builder
	title := html.EscapeString(textenc.SanitizeStrict(filename))
	fmt.Fprintf(&sb, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n", title)
	fmt.Fprintf(&sb, "<h1>%s</h1>\n<p>%d chunks</p>\n", title, len(chunks))
	for _, c := range chunks {
		fmt.Fprintf(&sb, "<section id=\"chunk-%d\">\n<h2>chunk %d</h2>\n<pre>%s</pre>\n</section>\n",
			c.ChunkIndex, c.ChunkIndex, html.EscapeString(textenc.SanitizeStrict(c.Text)))
	}
	sb.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, sb.String())
}

func (s *Server) handleRagDocDelete(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, r, s.notReadyErr())
		return
	}
	docID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "invalid document id"))
		return
	}
	if err := s.store.DeleteDoc(docID); err != nil {
		writeError(w, r, err)
		return
	}
	docs, chunks := s.store.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"doc_id":      docID,
		"doc_count":   docs,
		"chunk_count": chunks,
	})
}

func (s *Server) handleRagUpload(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, r, s.notReadyErr())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "missing multipart field 'file'"))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".txt" && ext != ".pdf" {
		writeError(w, r, domain.Errf(domain.KindInvalidRequest, "unsupported file type %q (want .txt or .pdf)", ext))
		return
	}

	if err := os.MkdirAll(s.opts.UploadsDir, 0755); err != nil {
		writeError(w, r, domain.Wrap(domain.KindStorage, err, "failed to create uploads directory"))
		return
	}
	stored := filepath.Join(s.opts.UploadsDir,
		fmt.Sprintf("%d_%s", time.Now().UnixMilli(), sanitizeFilename(name)))
	dst, err := os.Create(stored)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.KindStorage, err, "failed to store upload"))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(stored)
		writeError(w, r, domain.Wrap(domain.KindStorage, err, "failed to store upload"))
		return
	}
	dst.Close()

	docID, chunkCount, trace, err := s.ingester.IngestFileAs(stored, name)
	if err != nil {
		os.Remove(stored)
		writeError(w, r, err)
		return
	}

	mime := "text/plain"
	if ext == ".pdf" {
		mime = "application/pdf"
	}
	docs, chunks := s.store.Counts()
	if trace == nil {
		trace = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"doc": map[string]any{
			"id":       docID,
			"filename": textenc.SanitizeStrict(name),
			"mime":     mime,
			"chunks":   chunkCount,
		},
		"trace": trace,
		"rag": map[string]any{
			"doc_count":   docs,
			"chunk_count": chunks,
		},
	})
}

// sanitizeFilename keeps the stored upload name shell- and path-safe.
func sanitizeFilename(name string) string {
	name = textenc.SanitizeStrict(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r > 127:
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "upload"
	}
	return sb.String()
}
