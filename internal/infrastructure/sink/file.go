// Package sink provides result sinks and picks one from configuration.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"rangescan/internal/core/ranges"
)

// maxNameLength bounds a destination name, extension excluded.
const maxNameLength = 100

// FileSink writes one CSV file per range under a directory.
// With compression on, every append is a separate zstd frame; concatenated
// frames decode as one stream.
type FileSink struct {
	dir      string
	compress bool

	mu      sync.Mutex
	encoder *zstd.Encoder
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string, compress bool) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	s := &FileSink{dir: dir, compress: compress}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

var _ ranges.Sink = (*FileSink)(nil)

// DestinationName turns a range key into a file-system safe name. A key that
// had to be rewritten or shortened gets a hash of the original appended, so
// distinct keys never share a file.
func DestinationName(key string) string {
	key = strings.TrimSpace(key)

	// Underscore is reserved for the hash separator, so only hashed names contain one.
	var b strings.Builder
	rewritten := key == ""
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			rewritten = true
		}
	}
	name := b.String()
	if !rewritten && len(name) <= maxNameLength {
		return name
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	if len(name) > maxNameLength-9 {
		name = name[:maxNameLength-9]
	}
	return fmt.Sprintf("%s_%08x", name, h.Sum32())
}

// Path returns the file a key's records go to.
func (s *FileSink) Path(key string) string {
	ext := ".csv"
	if s.compress {
		ext += ".zst"
	}
	return filepath.Join(s.dir, DestinationName(key)+ext)
}

// EnsureDestination implements ranges.Sink.
func (s *FileSink) EnsureDestination(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create destination for %s: %w", key, err)
	}
	if err := s.write(f, ranges.RecordHeader); err != nil {
		f.Close()
		return fmt.Errorf("write header for %s: %w", key, err)
	}
	return f.Close()
}

// Append implements ranges.Sink.
func (s *FileSink) Append(ctx context.Context, key string, rec ranges.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(key), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open destination for %s: %w", key, err)
	}
	if err := s.write(f, rec.Fields()); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return f.Close()
}

func (s *FileSink) write(w io.Writer, fields []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(fields); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	line := buf.Bytes()
	if s.compress {
		line = s.encoder.EncodeAll(line, nil)
	}
	_, err := w.Write(line)
	return err
}

// Close implements ranges.Sink.
func (s *FileSink) Close() error {
	if s.encoder != nil {
		return s.encoder.Close()
	}
	return nil
}

// ReadAll decodes a destination file into rows. Used by rangectl and tests.
func ReadAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	return csv.NewReader(r).ReadAll()
}
