// Package extractor shells out to the poppler pdftotext utility for PDF
// text extraction.
package extractor

import (
	"bytes"
	"os/exec"

	"ragserve/internal/adapter/textenc"
	"ragserve/internal/domain"
)

// PDFToText invokes the external pdftotext binary. The command is spawned
// with an argv list, never through a shell, so filenames need no quoting.
type PDFToText struct {
	// Binary overrides the executable name (used by tests).
	Binary string
}

func NewPDFToText() *PDFToText {
	return &PDFToText{Binary: "pdftotext"}
}

// ExtractText runs `pdftotext -layout -q -enc UTF-8 <path> -` and returns
// the normalized, trimmed text.
func (p *PDFToText) ExtractText(path string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftotext"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "", domain.Errf(domain.KindExternalTool, "pdftotext not found; please install poppler-utils")
	}

	cmd := exec.Command(bin, "-layout", "-q", "-enc", "UTF-8", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", domain.Wrap(domain.KindExternalTool, err, "pdftotext failed")
	}

	text, err := textenc.Normalize(stdout.Bytes())
	if err != nil {
		return "", err
	}
	text = trimSpace(text)
	if text == "" {
		return "", domain.Errf(domain.KindExternalTool, "pdf contains no extractable text")
	}
	return text, nil
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
