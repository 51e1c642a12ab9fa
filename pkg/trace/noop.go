//go:build !tracing

package trace

import "context"

// NoopExporter does nothing. Used when tracing is disabled at build time.
type NoopExporter struct{}

// NewFileExporter returns a no-op exporter when tracing is disabled.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	return &NoopExporter{}, nil
}

func (n *NoopExporter) Export(ctx context.Context, record *TraceRecord) error { return nil }

func (n *NoopExporter) Close() error { return nil }
