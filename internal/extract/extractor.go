// Package extract turns document bytes into plain text for embedding.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Func extracts plain text from the raw bytes of one document.
type Func func(content []byte) (string, error)

// Extractor dispatches to a Func by lowercase file extension.
// Extensions without a registered Func are treated as plain text.
type Extractor struct {
	byExt map[string]Func
}

// NewExtractor returns an Extractor with the built-in formats registered:
// plain text and markdown, PDF, XLSX, DOCX, ODT and RTF.
func NewExtractor() *Extractor {
	e := &Extractor{byExt: make(map[string]Func)}
	for _, ext := range []string{".md", ".markdown", ".txt", ".rst"} {
		e.Register(ext, extractPlain)
	}
	e.Register(".pdf", extractPDF)
	e.Register(".xlsx", extractExcel)
	e.Register(".docx", extractDOCX)
	e.Register(".odt", extractWithCat)
	e.Register(".rtf", extractWithCat)
	return e
}

// Register sets the extraction function for ext (with or without the leading dot).
func (e *Extractor) Register(ext string, fn Func) {
	e.byExt[normalizeExt(ext)] = fn
}

// Supports reports whether ext has a dedicated extraction function.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.byExt[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on ext (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.byExt[normalizeExt(ext)]
	if !ok {
		return extractPlain(content)
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
