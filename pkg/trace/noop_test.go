//go:build !tracing

package trace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileExporter_DisabledBuild(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	assert.IsType(t, &NoopExporter{}, exporter)
	assert.NoError(t, exporter.Export(context.Background(), &TraceRecord{Operation: "read_graph"}))
	assert.NoError(t, exporter.Close())
}
