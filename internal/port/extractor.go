package port

// PDFExtractor turns a PDF file into plain UTF-8 text.
type PDFExtractor interface {
	ExtractText(path string) (string, error)
}
