package tracing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/optimeist/optimeist/internal/config"
)

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), SpanInstallUnit)
	require.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "traces.jsonl")
	p, err := NewProvider(config.TracingConfig{
		Enabled:    true,
		Exporter:   "file",
		FilePath:   path,
		SampleRate: 1.0,
	}, "optimeist-test")
	require.NoError(t, err)
	require.True(t, p.Enabled())

	ctx, parent := p.Tracer().Start(context.Background(), SpanInstallFetch)
	_, child := p.Tracer().Start(ctx, SpanInstallUnit)
	child.SetAttributes(attribute.String(AttrFunctionName, "checkout"))
	child.SetStatus(codes.Error, "access denied")
	child.End()
	parent.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	records := map[string]SpanRecord{}
	for _, line := range lines {
		var r SpanRecord
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		records[r.Name] = r
	}
	unit := records[SpanInstallUnit]
	require.Equal(t, "ERROR", unit.Status)
	require.Equal(t, "access denied", unit.Message)
	require.Equal(t, "checkout", unit.Attributes[AttrFunctionName])
	require.Equal(t, records[SpanInstallFetch].SpanID, unit.ParentID)
}

func TestNewProvider_NoneExporterStillTraces(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "none"}, "test")
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), SpanUpdaterCycle)
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "test")
	require.ErrorContains(t, err, "unsupported exporter type")
}

func TestFileExporter_ShutdownIsIdempotent(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)

	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.ExportSpans(context.Background(), nil))
}
