// Package vault lists and reads the documents that make up a note vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/vaultsearch/internal/extract"
	"github.com/hyperjump/vaultsearch/internal/models"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Read when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Source enumerates documents and reads their content.
// Paths are vault-relative and slash-separated (e.g. "notes/a.md").
type Source interface {
	List(ctx context.Context) ([]models.DocumentInfo, error)
	Read(ctx context.Context, path string) (models.Document, error)
}

var _ Source = (*FSVault)(nil)

// FSVault is a Source backed by one or more directories on disk.
// With a single root, document paths are relative to it. With several roots,
// each path is prefixed with the base name of its root.
type FSVault struct {
	roots     []root
	exts      map[string]bool
	recursive bool
	extractor *extract.Extractor
	logger    *zap.Logger
}

type root struct {
	dir    string
	prefix string
}

// Option configures an FSVault.
type Option func(*FSVault)

// WithExtensions limits the vault to files with the given extensions (case-insensitive).
// An empty list accepts every file.
func WithExtensions(exts []string) Option {
	return func(v *FSVault) {
		v.exts = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			v.exts[e] = true
		}
	}
}

// WithRecursive controls whether subdirectories are listed. Default true.
func WithRecursive(recursive bool) Option {
	return func(v *FSVault) { v.recursive = recursive }
}

// WithExtractor sets the text extractor used by Read.
func WithExtractor(e *extract.Extractor) Option {
	return func(v *FSVault) { v.extractor = e }
}

// WithLogger sets a logger for skipped entries.
func WithLogger(l *zap.Logger) Option {
	return func(v *FSVault) { v.logger = l }
}

// NewFSVault returns a vault over dirs. Every dir must exist, and with several
// dirs their base names must be distinct.
func NewFSVault(dirs []string, opts ...Option) (*FSVault, error) {
	if len(dirs) == 0 {
		return nil, errors.New("vault: no directories configured")
	}
	v := &FSVault{
		exts:      map[string]bool{".md": true},
		recursive: true,
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}

	seen := make(map[string]bool)
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("vault: absolute path %s: %w", d, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("vault: stat %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("vault: not a directory: %s", abs)
		}
		r := root{dir: abs}
		if len(dirs) > 1 {
			r.prefix = filepath.Base(abs)
			if seen[r.prefix] {
				return nil, fmt.Errorf("vault: duplicate directory name %q", r.prefix)
			}
			seen[r.prefix] = true
		}
		v.roots = append(v.roots, r)
	}
	return v, nil
}

// Roots returns the absolute root directories.
func (v *FSVault) Roots() []string {
	out := make([]string, len(v.roots))
	for i, r := range v.roots {
		out[i] = r.dir
	}
	return out
}

// Recursive reports whether subdirectories are part of the vault.
func (v *FSVault) Recursive() bool { return v.recursive }

// List returns every matching document sorted by path.
func (v *FSVault) List(ctx context.Context) ([]models.DocumentInfo, error) {
	var docs []models.DocumentInfo
	for _, r := range v.roots {
		err := filepath.WalkDir(r.dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if p == r.dir {
					return walkErr
				}
				v.logger.Debug("vault skipping unreadable entry", zap.String("path", p), zap.Error(walkErr))
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if p == r.dir {
					return nil
				}
				if isHidden(d.Name()) || !v.recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if isHidden(d.Name()) || !v.matchesExt(p) {
				return nil
			}
			info, err := os.Stat(p)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(r.dir, p)
			if err != nil {
				return nil
			}
			docs = append(docs, models.DocumentInfo{
				Path:  r.join(filepath.ToSlash(rel)),
				MTime: info.ModTime().UnixMilli(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("vault: list %s: %w", r.dir, err)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// Read returns the extracted text content and mtime of the document at path.
func (v *FSVault) Read(ctx context.Context, docPath string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	abs, ok := v.Abs(docPath)
	if !ok {
		return models.Document{}, fmt.Errorf("vault: %s: %w", docPath, ErrNotFound)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return models.Document{}, fmt.Errorf("vault: %s: %w", docPath, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("vault: stat %s: %w", docPath, err)
	}
	text, err := v.extractor.Extract(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Document{}, fmt.Errorf("vault: %s: %w", docPath, ErrNotFound)
		}
		return models.Document{}, fmt.Errorf("vault: read %s: %w", docPath, err)
	}
	return models.Document{Path: docPath, Content: text, MTime: info.ModTime().UnixMilli()}, nil
}

// Abs maps a vault path to its absolute file path. It reports false when the
// path escapes the vault or names an unknown root.
func (v *FSVault) Abs(docPath string) (string, bool) {
	clean := path.Clean("/" + docPath)[1:]
	if clean == "" || clean != strings.TrimPrefix(docPath, "./") {
		return "", false
	}
	for _, r := range v.roots {
		rest := clean
		if r.prefix != "" {
			head, tail, found := strings.Cut(clean, "/")
			if !found || head != r.prefix {
				continue
			}
			rest = tail
		}
		return filepath.Join(r.dir, filepath.FromSlash(rest)), true
	}
	return "", false
}

// Rel maps an absolute file path to its vault path. It reports false for files
// outside every root, hidden files, files in hidden directories, files in
// subdirectories of a non-recursive vault and files with an unwatched extension.
func (v *FSVault) Rel(abs string) (string, bool) {
	for _, r := range v.roots {
		rel, err := filepath.Rel(r.dir, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")
		for _, s := range segments {
			if isHidden(s) {
				return "", false
			}
		}
		if !v.recursive && len(segments) > 1 {
			return "", false
		}
		if !v.matchesExt(abs) {
			return "", false
		}
		return r.join(rel), true
	}
	return "", false
}

func (v *FSVault) matchesExt(p string) bool {
	if len(v.exts) == 0 {
		return true
	}
	return v.exts[strings.ToLower(filepath.Ext(p))]
}

func (r root) join(rel string) string {
	if r.prefix == "" {
		return rel
	}
	return r.prefix + "/" + rel
}

// isHidden reports whether a path segment is hidden (".obsidian", ".git", ".trash").
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
