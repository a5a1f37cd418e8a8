package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	tr, err := newTracer(context.Background(), cfg, &buf, "pageflow-test", "1.2.3", "ci")
	require.NoError(t, err)

	_, span := tr.OTel().Start(context.Background(), "auth.login")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name": "auth.login"`)
	assert.Contains(t, out, "pageflow-test")
}

func TestTracer_UnknownExporter(t *testing.T) {
	cfg := TracingConfig{Enabled: true, Exporter: "zipkin"}
	_, err := newTracer(context.Background(), cfg, nil, "pageflow", "dev", "test")
	assert.Error(t, err)
}

func TestTracer_DisabledIsNoop(t *testing.T) {
	tr, err := NewTracer(TracingConfig{}, "pageflow", "dev", "test")
	require.NoError(t, err)
	_, span := tr.OTel().Start(context.Background(), "auth.login")
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, tr.Shutdown(context.Background()))
}
