// Package source turns uploaded files and fetched pages into plain text
// ready for summarization.
package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	ErrNoInput           = errors.New("no document source provided")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoText            = errors.New("document yielded no text")
	ErrFetchFailed       = errors.New("failed to fetch document")
	ErrMarkersNotFound   = errors.New("start marker not found in fetched text")
)

// Document is loaded source text. Paragraphs are separated by blank lines.
type Document struct {
	Title string `json:"title"`
	Text  string `json:"-"`
	Pages int    `json:"pages,omitempty"`
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Loader reads documents by file extension.
type Loader struct {
	// PDFFallbackPdftotext retries PDFs with the pdftotext binary when
	// the Go reader fails or finds no text.
	PDFFallbackPdftotext bool
}

// Load reads r with the default Loader.
func Load(filename string, r io.Reader) (Document, error) {
	return Loader{}.Load(filename, r)
}

// Load picks a reader from the filename extension. A document without
// any text fails with ErrNoText.
func (l Loader) Load(filename string, r io.Reader) (Document, error) {
	if r == nil {
		return Document{}, ErrNoInput
	}

	var (
		doc Document
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt":
		doc, err = loadText(r)
	case ".md", ".markdown":
		doc, err = loadMarkdown(r)
	case ".csv":
		doc, err = loadCSV(r)
	case ".html", ".htm":
		doc, err = loadHTML(r)
	case ".pdf":
		doc, err = loadPDF(r, l.PDFFallbackPdftotext)
	case ".docx":
		doc, err = loadDOCX(r)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Document{}, err
	}

	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if strings.TrimSpace(doc.Text) == "" {
		return Document{}, fmt.Errorf("%s: %w", filename, ErrNoText)
	}
	return doc, nil
}

// joinParagraphs trims each paragraph, drops empty ones and separates the
// rest with blank lines.
func joinParagraphs(paras []string) string {
	kept := paras[:0:0]
	for _, p := range paras {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
