package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracingRequiresEndpoint(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracingConfig{})
	assert.Error(t, err)
}

func TestTracingNilShutdown(t *testing.T) {
	var tr *Tracing
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracingExportsOverHTTP(t *testing.T) {
	var (
		exports atomic.Int32
		auth    atomic.Value
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			exports.Add(1)
			auth.Store(r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	tr, err := SetupTracing(context.Background(), TracingConfig{
		Endpoint: strings.TrimPrefix(collector.URL, "http://"),
		Protocol: "http",
		Insecure: true,
		Version:  "test",
		Headers:  map[string]string{"Authorization": "Bearer otel"},
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "agent.execute")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx))
	assert.GreaterOrEqual(t, exports.Load(), int32(1))
	assert.Equal(t, "Bearer otel", auth.Load())
}
