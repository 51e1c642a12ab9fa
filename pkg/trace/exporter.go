//go:build tracing

package trace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dan-solli/learngraph/pkg/jsonx"
)

// NoopExporter does nothing. NewFileExporter returns it for an empty path.
type NoopExporter struct{}

func (n *NoopExporter) Export(ctx context.Context, record *TraceRecord) error { return nil }

func (n *NoopExporter) Close() error { return nil }

// FileExporter appends trace records to a JSON Lines file and rotates it
// once it grows past the size limit.
type FileExporter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// WithMaxSize sets the size that triggers rotation (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(v any) {
		if fe, ok := v.(*FileExporter); ok {
			fe.maxSizeBytes = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(v any) {
		if fe, ok := v.(*FileExporter); ok {
			fe.maxRotatedFiles = count
		}
	}
}

// NewFileExporter opens filePath for appending. An empty path yields a
// no-op exporter.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	if filePath == "" {
		return &NoopExporter{}, nil
	}

	fe := &FileExporter{
		filePath:        filePath,
		maxSizeBytes:    10 * 1024 * 1024,
		maxRotatedFiles: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = file
	return nil
}

// Export writes record as one line, rotating afterwards if needed.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	line, err := jsonx.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	line = append(line, '\n')

	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return errors.New("exporter closed")
	}
	if _, err := fe.file.Write(line); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Calling it twice is safe.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

// rotateIfNeeded must be called with fe.mu held.
func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file for rotation: %w", err)
	}

	// path.N is dropped, path.N-1 becomes path.N, ..., path becomes path.1.
	oldest := fmt.Sprintf("%s.%d", fe.filePath, fe.maxRotatedFiles)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove oldest rotated file: %w", err)
	}
	for i := fe.maxRotatedFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", fe.filePath, i)
		to := fmt.Sprintf("%s.%d", fe.filePath, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift rotated file %s: %w", from, err)
		}
	}
	if err := os.Rename(fe.filePath, fe.filePath+".1"); err != nil {
		return fmt.Errorf("rotate current file: %w", err)
	}

	return fe.open()
}
