package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{raw: "", want: map[string]string{}},
		{raw: "service.namespace=scormflow", want: map[string]string{"service.namespace": "scormflow"}},
		{raw: " a = 1 , b=2,broken,=x", want: map[string]string{"a": "1", "b": "2"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAttributes(tt.raw), tt.raw)
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "scormflow-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}
