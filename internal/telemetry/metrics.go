package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records gateway counters through an OTel meter backed by a
// Prometheus exporter. It satisfies the executor's metrics sink and the
// model router's call observer.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	sessionsStarted  metric.Int64Counter
	sessionsFinished metric.Int64Counter
	sessionDuration  metric.Float64Histogram
	toolCalls        metric.Int64Counter
	toolErrors       metric.Int64Counter
	recipeCalls      metric.Int64Counter
	modelDuration    metric.Float64Histogram
	modelErrors      metric.Int64Counter
}

// NewMetrics builds the meter. active, when non-nil, is sampled for the
// active sessions gauge on every scrape.
func NewMetrics(active func() int64) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("agentgate")

	m := &Metrics{provider: provider, registry: registry}

	if m.sessionsStarted, err = meter.Int64Counter("agentgate_sessions_started_total",
		metric.WithDescription("Sessions started")); err != nil {
		return nil, fmt.Errorf("failed to create sessions started counter: %w", err)
	}
	if m.sessionsFinished, err = meter.Int64Counter("agentgate_sessions_finished_total",
		metric.WithDescription("Sessions finished, by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create sessions finished counter: %w", err)
	}
	if m.sessionDuration, err = meter.Float64Histogram("agentgate_session_duration_seconds",
		metric.WithDescription("Session wall time in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create session duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter("agentgate_tool_calls_total",
		metric.WithDescription("Tool calls")); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter("agentgate_tool_errors_total",
		metric.WithDescription("Tool calls that returned an error result")); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if m.recipeCalls, err = meter.Int64Counter("agentgate_recipe_calls_total",
		metric.WithDescription("Nested recipe invocations")); err != nil {
		return nil, fmt.Errorf("failed to create recipe calls counter: %w", err)
	}
	if m.modelDuration, err = meter.Float64Histogram("agentgate_model_call_duration_seconds",
		metric.WithDescription("Model call latency in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create model duration histogram: %w", err)
	}
	if m.modelErrors, err = meter.Int64Counter("agentgate_model_errors_total",
		metric.WithDescription("Failed model calls")); err != nil {
		return nil, fmt.Errorf("failed to create model errors counter: %w", err)
	}

	if active != nil {
		_, err = meter.Int64ObservableGauge("agentgate_active_sessions",
			metric.WithDescription("Sessions currently running"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(active())
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create active sessions gauge: %w", err)
		}
	}
	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(agentID string) {
	m.sessionsStarted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("agent", agentID)))
}

func (m *Metrics) SessionFinished(agentID, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent", agentID), attribute.String("outcome", outcome))
	m.sessionsFinished.Add(context.Background(), 1, attrs)
	if elapsed > 0 {
		m.sessionDuration.Record(context.Background(), elapsed.Seconds(), attrs)
	}
}

func (m *Metrics) ToolCall(tool string, isError bool) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(context.Background(), 1, attrs)
	if isError {
		m.toolErrors.Add(context.Background(), 1, attrs)
	}
}

func (m *Metrics) RecipeCall(recipeID string, depth int) {
	m.recipeCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("recipe", recipeID),
		attribute.Int("depth", depth),
	))
}

// ModelCall matches the router's call observer signature.
func (m *Metrics) ModelCall(provider, model string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider), attribute.String("model", model))
	m.modelDuration.Record(context.Background(), elapsed.Seconds(), attrs)
	if err != nil {
		m.modelErrors.Add(context.Background(), 1, attrs)
	}
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
