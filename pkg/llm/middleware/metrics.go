package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/tarsy-labs/dmp/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records request/latency/retry counters via OpenTelemetry metric
// instruments.
type Metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	retries  metric.Int64Counter

	starts sync.Map // *types.LLMRequest -> time.Time
}

// NewMetrics builds a Metrics middleware from a named meter
// ("dmp/llm" by default).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("dmp/llm")
	}
	requests, err := meter.Int64Counter("llm_requests_total")
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("llm_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("llm_retries_total")
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, latency: latency, retries: retries}, nil
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) BeforeRequest(ctx context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	m.starts.Store(req, time.Now())
	if attempt, ok := req.Metadata["attempt"].(int); ok && attempt > 1 {
		m.retries.Add(ctx, 1)
	}
	return req, nil
}

func (m *Metrics) AfterResponse(ctx context.Context, req *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	m.requests.Add(ctx, 1)
	if v, ok := m.starts.LoadAndDelete(req); ok {
		m.latency.Record(ctx, time.Since(v.(time.Time)).Seconds())
	}
	return resp, nil
}
