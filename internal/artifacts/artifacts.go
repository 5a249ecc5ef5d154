// Package artifacts implements ArtifactStore: content-addressed result
// files written under a configured root, with path-containment checks,
// atomic writes, a back-pressure-aware streaming writer, and bounded
// head/tail/get reads.
package artifacts

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

const (
	defaultMaxBytes = 64 * 1024
	hardMaxBytes    = 10 * 1024 * 1024
)

// Artifact describes one stored object.
type Artifact struct {
	URI    string `json:"uri"`
	Rel    string `json:"rel"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256,omitempty"`
}

// Store writes and reads artifacts under <root>/artifacts.
type Store struct {
	root string
}

func NewStore(contextRoot string) *Store {
	return &Store{root: filepath.Join(contextRoot, "artifacts")}
}

// Resolve joins rel under the artifacts root and rejects any path that
// would escape it (P2).
func (s *Store) Resolve(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	abs := filepath.Join(s.root, clean)
	rootWithSep := filepath.Clean(s.root) + string(filepath.Separator)
	if !strings.HasPrefix(abs+string(filepath.Separator), rootWithSep) && abs != filepath.Clean(s.root) {
		return "", errs.New(errs.KindInvalidParams, errs.CodeArtifactTraversal, fmt.Sprintf("artifact path %q escapes the artifact root", rel))
	}
	return abs, nil
}

// RelForRun builds the conventional rel path
// runs/<traceId|"run">/tool_calls/<spanId|uuid>/<filename>.
func RelForRun(traceID, spanID, filename string) string {
	trace := traceID
	if trace == "" {
		trace = "run"
	}
	return filepath.ToSlash(filepath.Join("runs", trace, "tool_calls", spanID, filename))
}

func uriFor(rel string) string {
	return "artifact://" + filepath.ToSlash(rel)
}

// WriteText atomically writes text content to rel, returning the artifact.
func (s *Store) WriteText(rel, content string) (*Artifact, error) {
	return s.WriteBinary(rel, []byte(content))
}

// WriteBinary atomically writes data to rel.
func (s *Store) WriteBinary(rel string, data []byte) (*Artifact, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, errs.Internal(fmt.Errorf("artifacts: mkdir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("artifacts: create temp: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, errs.Internal(fmt.Errorf("artifacts: write: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, errs.Internal(fmt.Errorf("artifacts: close temp: %w", err))
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		os.Remove(tmpPath)
		return nil, errs.Internal(fmt.Errorf("artifacts: rename: %w", err))
	}
	sum := sha256.Sum256(data)
	return &Artifact{URI: uriFor(rel), Rel: rel, Bytes: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}, nil
}

// Writer is a streaming artifact writer; Finalize and Abort are mutually
// exclusive terminal operations.
type Writer struct {
	rel     string
	abs     string
	tmpPath string
	file    *os.File
	written int64
	sum     *sha256Sum
}

type sha256Sum struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// CreateWriteStream opens a streaming writer for rel. Callers write via
// Write, then call Finalize to commit (atomic rename) or Abort to discard.
func (s *Store) CreateWriteStream(rel string) (*Writer, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, errs.Internal(fmt.Errorf("artifacts: mkdir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("artifacts: create temp: %w", err))
	}
	h := sha256.New()
	return &Writer{rel: rel, abs: abs, tmpPath: tmp.Name(), file: tmp, sum: &sha256Sum{h: h}}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		w.sum.h.Write(p[:n])
		w.written += int64(n)
	}
	return n, err
}

// Finalize closes and atomically renames the temp file into place,
// returning the resulting artifact. Safe to call after a partial write.
func (w *Writer) Finalize() (*Artifact, error) {
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return nil, errs.Internal(fmt.Errorf("artifacts: close stream: %w", err))
	}
	if err := os.Rename(w.tmpPath, w.abs); err != nil {
		os.Remove(w.tmpPath)
		return nil, errs.Internal(fmt.Errorf("artifacts: rename stream: %w", err))
	}
	sum := w.sum.h.Sum(nil)
	return &Artifact{URI: uriFor(w.rel), Rel: w.rel, Bytes: w.written, SHA256: hex.EncodeToString(sum)}, nil
}

// Abort discards the partially written temp file.
func (w *Writer) Abort() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// Slice is a bounded read result.
type Slice struct {
	FileBytes      int64  `json:"file_bytes"`
	Offset         int64  `json:"offset"`
	Length         int64  `json:"length"`
	Truncated      bool   `json:"truncated"`
	SHA256         string `json:"sha256"`
	Content        string `json:"content,omitempty"`
	ContentBase64  string `json:"content_base64,omitempty"`
}

func clampMaxBytes(maxBytes int64) int64 {
	if maxBytes <= 0 {
		return defaultMaxBytes
	}
	if maxBytes > hardMaxBytes {
		return hardMaxBytes
	}
	return maxBytes
}

// Get reads a bounded slice starting at offset.
func (s *Store) Get(rel string, offset, maxBytes int64, asBase64 bool) (*Slice, error) {
	return s.readSlice(rel, offset, maxBytes, asBase64, false)
}

// Head reads the first maxBytes of rel.
func (s *Store) Head(rel string, maxBytes int64, asBase64 bool) (*Slice, error) {
	return s.readSlice(rel, 0, maxBytes, asBase64, false)
}

// Tail reads the last maxBytes of rel.
func (s *Store) Tail(rel string, maxBytes int64, asBase64 bool) (*Slice, error) {
	return s.readSlice(rel, 0, maxBytes, asBase64, true)
}

func (s *Store) readSlice(rel string, offset, maxBytes int64, asBase64, fromEnd bool) (*Slice, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, errs.CodeArtifactNotFound, fmt.Sprintf("artifact %q not found", rel))
		}
		return nil, errs.Internal(fmt.Errorf("artifacts: open: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("artifacts: stat: %w", err))
	}
	total := info.Size()
	bound := clampMaxBytes(maxBytes)

	var start int64
	if fromEnd {
		start = total - bound
		if start < 0 {
			start = 0
		}
	} else {
		start = offset
		if start > total {
			start = total
		}
	}
	length := bound
	if start+length > total {
		length = total - start
	}
	if length < 0 {
		length = 0
	}

	buf := make([]byte, length)
	if length > 0 {
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return nil, errs.Internal(fmt.Errorf("artifacts: read: %w", err))
		}
	}
	sum := sha256.Sum256(buf)

	slice := &Slice{
		FileBytes: total,
		Offset:    start,
		Length:    length,
		Truncated: start+length < total || start > 0,
		SHA256:    hex.EncodeToString(sum[:]),
	}
	if asBase64 {
		slice.ContentBase64 = base64.StdEncoding.EncodeToString(buf)
	} else {
		slice.Content = string(buf)
	}
	return slice, nil
}

// ListEntry is one result row from List.
type ListEntry struct {
	URI   string    `json:"uri"`
	Rel   string    `json:"rel"`
	Bytes int64     `json:"bytes"`
	Mtime time.Time `json:"mtime"`
}

// List walks the subtree under prefix depth-first, capped at limit
// entries (default/implicit cap 2000).
func (s *Store) List(prefix string, limit int) ([]ListEntry, error) {
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}
	abs, err := s.Resolve(prefix)
	if err != nil {
		return nil, err
	}
	var out []ListEntry
	err = filepath.Walk(abs, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if len(out) >= limit {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		out = append(out, ListEntry{URI: uriFor(rel), Rel: rel, Bytes: info.Size(), Mtime: info.ModTime()})
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, errs.Internal(fmt.Errorf("artifacts: list: %w", err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

