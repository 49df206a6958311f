package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.False(t, cfg.Enabled, "tracing should be disabled by default")
	require.Equal(t, "file", cfg.Exporter)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, provider.Enabled())

	ctx, span := provider.Tracer().Start(context.Background(), SpanPublish)
	require.NotNil(t, ctx)
	require.False(t, span.SpanContext().IsValid(), "no-op spans carry no context")
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterWritesSpans(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	provider, err := NewProvider(Config{
		Enabled:    true,
		Exporter:   "file",
		FilePath:   tracePath,
		SampleRate: 1.0,
	})
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), SpanPublish)
	require.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"name":"subject.publish"`)
}

func TestNewProvider_NoneExporter(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: true, Exporter: "none"})
	require.NoError(t, err)

	_, span := provider.Tracer().Start(context.Background(), SpanUpdate)
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterWithoutHome(t *testing.T) {
	t.Setenv("HOME", "")

	provider, err := NewProvider(Config{Enabled: true, Exporter: "file"})
	require.Error(t, err)
	require.Nil(t, provider)
	require.Contains(t, err.Error(), "file_path required")
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/fanout")

	got := Config{Enabled: true}.withDefaults()
	require.Equal(t, "none", got.Exporter)
	require.Equal(t, filepath.Join("/home/fanout", ".config", "fanout", "traces", "traces.jsonl"), got.FilePath)
	require.Equal(t, "localhost:4317", got.OTLPEndpoint)
	require.Equal(t, 1.0, got.SampleRate)
	require.Equal(t, DefaultServiceName, got.ServiceName)

	kept := Config{Exporter: "stdout", FilePath: "t.jsonl", SampleRate: 0.5, ServiceName: "svc"}.withDefaults()
	require.Equal(t, "stdout", kept.Exporter)
	require.Equal(t, "t.jsonl", kept.FilePath)
	require.Equal(t, 0.5, kept.SampleRate)
	require.Equal(t, "svc", kept.ServiceName)
}

func TestExporters(t *testing.T) {
	require.Equal(t, []string{"file", "none", "otlp", "stdout"}, Exporters())
	for _, name := range append(Exporters(), "") {
		require.NoError(t, ValidateExporter(name), name)
	}
	require.ErrorContains(t, ValidateExporter("jaeger"), "unsupported exporter")
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
	require.Nil(t, provider)
	require.Contains(t, err.Error(), "unsupported exporter")
}
