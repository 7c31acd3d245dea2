// Package middleware provides concrete llm.Middleware implementations:
// OpenTelemetry-based tracing and metrics, a secret-redacting response
// filter, and a stateful health monitor tracking consecutive failures
// across LLM calls.
package middleware

import (
	"context"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps each LLM call in an OpenTelemetry span, started in
// BeforeRequest and ended in AfterResponse so the span covers exactly the
// request/response roundtrip the executor mediates. Spans are tracked per
// in-flight request under a sync.Map since concurrent workers share one
// Tracing instance.
type Tracing struct {
	tracer trace.Tracer
	spans  sync.Map // *types.LLMRequest -> trace.Span
}

// NewTracing builds a Tracing middleware using the named tracer
// ("dmp/llm" by default callers should use otel.Tracer("dmp/llm")).
func NewTracing(tracer trace.Tracer) *Tracing {
	if tracer == nil {
		tracer = otel.Tracer("dmp/llm")
	}
	return &Tracing{tracer: tracer}
}

func (t *Tracing) Name() string { return "tracing" }

func (t *Tracing) BeforeRequest(ctx context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	spanCtx, span := t.tracer.Start(ctx, "llm.generate")
	if attempt, ok := req.Metadata["attempt"].(int); ok {
		span.SetAttributes(attribute.Int("llm.attempt", attempt))
	}
	_ = spanCtx
	t.spans.Store(req, span)
	return req, nil
}

func (t *Tracing) AfterResponse(ctx context.Context, req *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	span, ok := t.loadAndDelete(req)
	if !ok {
		return resp, nil
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	return resp, nil
}

func (t *Tracing) OnRetryExhausted(ctx context.Context, req *types.LLMRequest, metadata map[string]any, err error) {
	span, ok := t.loadAndDelete(req)
	if !ok {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func (t *Tracing) loadAndDelete(req *types.LLMRequest) (trace.Span, bool) {
	v, ok := t.spans.LoadAndDelete(req)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}
