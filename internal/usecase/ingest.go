// Package usecase wires the retrieval pipeline together: ingesting files,
// searching the store and assembling chat context.
package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
	"ragserve/internal/logx"
	"ragserve/internal/port"
)

// SeedState remembers which files earlier seed runs ingested.
type SeedState interface {
	Seen(path string, modTime, size int64) (bool, error)
	Mark(path string, modTime, size, docID int64) error
}

// Ingester turns files on disk into stored documents.
type Ingester struct {
	Store      port.DocStore
	Extractor  port.PDFExtractor
	ChunkChars int
	// PDFTextDir, when set, receives a .txt sidecar for every ingested PDF.
	PDFTextDir string
}

// IngestFile reads, normalizes and stores one .txt or .pdf file. The trace
// carries non-fatal warnings.
func (g *Ingester) IngestFile(path string) (docID int64, chunkCount int, trace []string, err error) {
	return g.IngestFileAs(path, "")
}

// IngestFileAs ingests path under an explicit display name. Uploads use this
// so the document keeps its original filename rather than the stored one.
func (g *Ingester) IngestFileAs(path, displayName string) (docID int64, chunkCount int, trace []string, err error) {
	ext := strings.ToLower(filepath.Ext(path))

	var text string
	var mime string
	switch ext {
	case ".txt":
		mime = "text/plain"
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return 0, 0, trace, domain.Wrap(domain.KindStorage, rerr, "failed to read file")
		}
		text, err = textenc.Normalize(raw)
		if err != nil {
			return 0, 0, trace, err
		}
	case ".pdf":
		mime = "application/pdf"
		if g.Extractor == nil {
			return 0, 0, trace, domain.Errf(domain.KindExternalTool, "no pdf extractor configured")
		}
		text, err = g.Extractor.ExtractText(path)
		if err != nil {
			return 0, 0, trace, err
		}
		if g.PDFTextDir != "" {
			if warn := exportSidecar(g.PDFTextDir, path, text); warn != "" {
				trace = append(trace, warn)
			}
		}
	default:
		return 0, 0, trace, domain.Errf(domain.KindInvalidRequest, "unsupported file type %q (want .txt or .pdf)", ext)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return 0, 0, trace, domain.Errf(domain.KindInvalidRequest, "file contains no text")
	}

	name := displayName
	if name == "" {
		name = filepath.Base(path)
	}
	display, derr := textenc.Normalize([]byte(name))
	if derr != nil {
		display = name
		trace = append(trace, fmt.Sprintf("filename %q is not valid text; stored raw", name))
	}

	docID, chunkCount, err = g.Store.AddDocument(display, mime, text, g.ChunkChars)
	if err != nil {
		return 0, 0, trace, err
	}
	logx.Info("ingest.done", "file", display, "doc_id", docID, "chunks", chunkCount)
	return docID, chunkCount, trace, nil
}

// exportSidecar writes the extracted PDF text next to earlier exports,
// appending _1, _2... when the name is taken. Failures only warn.
func exportSidecar(dir, pdfPath, text string) string {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Sprintf("pdf text export failed: %v", err)
	}
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	target := filepath.Join(dir, stem+".txt")
	for i := 1; ; i++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("%s_%d.txt", stem, i))
	}
	if err := os.WriteFile(target, []byte(text), 0644); err != nil {
		return fmt.Sprintf("pdf text export failed: %v", err)
	}
	return ""
}

// SeedResult summarizes one seed pass over a directory.
type SeedResult struct {
	Ingested int
	Skipped  int
	Failed   int
	Trace    []string
}

// SeedDir ingests every .txt/.pdf file directly inside dir (no recursion).
// Files matching none of the include patterns are skipped, as are files the
// seed state already saw with the same modtime and size. Per-file failures
// land in the trace and do not stop the pass.
func (g *Ingester) SeedDir(dir string, patterns []string, state SeedState, progress func(name string)) (SeedResult, error) {
	var res SeedResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, domain.Wrap(domain.KindStorage, err, "failed to read seed directory")
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".txt" && ext != ".pdf" {
			continue
		}
		if !matchAny(patterns, name) {
			res.Skipped++
			continue
		}
		if progress != nil {
			progress(name)
		}

		path := filepath.Join(dir, name)
		info, ierr := e.Info()
		if ierr != nil {
			res.Failed++
			res.Trace = append(res.Trace, fmt.Sprintf("%s: %v", name, ierr))
			continue
		}

		if state != nil {
			seen, serr := state.Seen(path, info.ModTime().UnixNano(), info.Size())
			if serr == nil && seen {
				res.Skipped++
				continue
			}
		}

		docID, _, trace, ferr := g.IngestFile(path)
		res.Trace = append(res.Trace, trace...)
		if ferr != nil {
			res.Failed++
			res.Trace = append(res.Trace, fmt.Sprintf("%s: %v", name, ferr))
			continue
		}
		res.Ingested++
		if state != nil {
			if merr := state.Mark(path, info.ModTime().UnixNano(), info.Size(), docID); merr != nil {
				res.Trace = append(res.Trace, fmt.Sprintf("%s: seed state update failed: %v", name, merr))
			}
		}
	}
	logx.Info("seed.done", "dir", dir, "ingested", res.Ingested, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
