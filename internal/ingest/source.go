package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrFileNotFound is returned by OpenFile when the input path does not exist.
var ErrFileNotFound = errors.New("file not found")

// Source yields raw NDJSON lines. Next returns io.EOF once the input is
// exhausted. Commit is called after every batch that was stored, so a source
// can acknowledge everything it has handed out so far.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Commit(ctx context.Context) error
}

// ReaderSource reads lines from an io.Reader. Commit is a no-op.
type ReaderSource struct {
	r *bufio.Reader
}

// NewReaderSource wraps r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line without its terminator.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := s.r.ReadBytes('\n')
	if len(line) > 0 {
		return bytes.TrimRight(line, "\r\n"), nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *ReaderSource) Commit(context.Context) error { return nil }

// FileSource is a ReaderSource over an opened file.
type FileSource struct {
	*ReaderSource
	file *os.File
}

// OpenFile opens path for import.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	return &FileSource{ReaderSource: NewReaderSource(f), file: f}, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
