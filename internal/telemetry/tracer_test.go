// SPDX-License-Identifier: MIT
package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid(), "noop provider must not produce sampled spans")
	span.End()
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported exporter type")
}

func TestNewProvider_HTTPExporter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "rcwatch-test",
		ExporterType: "http",
		Endpoint:     "127.0.0.1:1",
		SamplingRate: 0.5,
	})
	require.NoError(t, err)
	_ = p.Shutdown(context.Background())
	_, _ = NewProvider(context.Background(), Config{Enabled: false})
}

func TestRoundAttributes(t *testing.T) {
	attrs := RoundAttributes(42, 2, 5)
	assert.Equal(t, []attribute.KeyValue{
		attribute.Int64(ClassroomIDKey, 42),
		attribute.Int(RoundKey, 2),
		attribute.Int(PendingKey, 5),
	}, attrs)
}
