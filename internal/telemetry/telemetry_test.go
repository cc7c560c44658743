package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Unknown(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "prepchain-test",
		Exporter:    "stdout",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "service.Append")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "service.Append")
	assert.Contains(t, buf.String(), "prepchain-test")
}
