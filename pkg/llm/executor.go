package llm

import (
	"context"
	"maps"
	"time"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// RetryConfig controls the executor's per-call retry loop.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

func (r RetryConfig) maxAttempts() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// Executor is the C4 LLM executor: it wraps Client.Generate with a
// middleware chain, a bounded retry loop, an optional rate limiter, and an
// optional cost tracker.
type Executor struct {
	client      Client
	middlewares []Middleware
	afters      []AfterResponseMiddleware // precomputed reverse-order subset
	exhausted   []RetryExhaustedMiddleware
	retry       RetryConfig
	limiter     RateLimiter
	cost        CostTracker
	sleep       func(time.Duration)
}

// NewExecutor builds an Executor. Capability probing for AfterResponse /
// OnRetryExhausted happens once here, at construction time, rather than on
// every call.
func NewExecutor(client Client, middlewares []Middleware, retry RetryConfig, limiter RateLimiter, cost CostTracker) *Executor {
	e := &Executor{
		client:      client,
		middlewares: middlewares,
		retry:       retry,
		limiter:     limiter,
		cost:        cost,
		sleep:       time.Sleep,
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		if after, ok := middlewares[i].(AfterResponseMiddleware); ok {
			e.afters = append(e.afters, after)
		}
	}
	for _, m := range middlewares {
		if ex, ok := m.(RetryExhaustedMiddleware); ok {
			e.exhausted = append(e.exhausted, ex)
		}
	}
	return e
}

// Execute runs the full per-attempt algorithm: build request, apply
// before-request middleware, acquire a rate-limit permit, call the client,
// apply after-response middleware in reverse, record cost, and attach
// retry bookkeeping. Retries on error with exponential backoff until
// MaxAttempts is exhausted, at which point it returns a
// *RetryExhaustedError.
func (e *Executor) Execute(ctx context.Context, userPrompt string, metadata map[string]any, systemPrompt string) (types.LLMResponse, error) {
	maxAttempts := e.retry.maxAttempts()
	delay := e.retry.InitialDelay
	multiplier := e.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	var history []types.RetryAttempt
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		resp, err := e.attempt(ctx, systemPrompt, userPrompt, metadata, attempt)
		duration := time.Since(start)

		if err == nil {
			history = append(history, types.RetryAttempt{Attempt: attempt, Status: "success", Duration: duration})
			resp.Metrics = ensureMetrics(resp.Metrics)
			resp.Metrics["attempts_used"] = float64(attempt)
			resp.Retry = &types.RetryInfo{Attempts: attempt, MaxAttempts: maxAttempts, History: history}
			return resp, nil
		}

		lastErr = err
		history = append(history, types.RetryAttempt{
			Attempt:   attempt,
			Status:    "error",
			Duration:  duration,
			Error:     err.Error(),
			ErrorType: errorType(err),
			NextDelay: delay,
		})

		if attempt < maxAttempts {
			if delay > 0 {
				if e.sleep != nil {
					e.sleep(delay)
				}
				delay = time.Duration(float64(delay) * multiplier)
			} else {
				delay = time.Duration(multiplier * float64(time.Second))
			}
			continue
		}
	}

	exhausted := &RetryExhaustedError{History: history, Last: lastErr}
	for _, mw := range e.exhausted {
		notifyRetryExhausted(ctx, mw, nil, metadata, exhausted)
	}
	return types.LLMResponse{}, exhausted
}

// notifyRetryExhausted isolates a misbehaving middleware hook so it can
// never mask the original error.
func notifyRetryExhausted(ctx context.Context, mw RetryExhaustedMiddleware, req *types.LLMRequest, metadata map[string]any, err error) {
	defer func() { _ = recover() }()
	mw.OnRetryExhausted(ctx, req, metadata, err)
}

func (e *Executor) attempt(ctx context.Context, systemPrompt, userPrompt string, metadata map[string]any, attempt int) (types.LLMResponse, error) {
	reqMeta := maps.Clone(metadata)
	if reqMeta == nil {
		reqMeta = map[string]any{}
	}
	reqMeta["attempt"] = attempt

	req := &types.LLMRequest{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Metadata: reqMeta}

	for _, mw := range e.middlewares {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return types.LLMResponse{}, err
		}
	}

	var release func()
	if e.limiter != nil {
		var err error
		release, err = e.limiter.Acquire(ctx, req.Metadata)
		if err != nil {
			return types.LLMResponse{}, err
		}
	}
	if release != nil {
		defer release()
	}

	resp, err := e.client.Generate(ctx, req.SystemPrompt, req.UserPrompt, req.Metadata)
	if err != nil {
		return types.LLMResponse{}, err
	}

	for _, after := range e.afters {
		var aerr error
		respCopy := resp
		rp := &respCopy
		rp, aerr = after.AfterResponse(ctx, req, rp)
		if aerr != nil {
			return types.LLMResponse{}, aerr
		}
		resp = *rp
	}

	if e.cost != nil {
		costMetrics, cerr := e.cost.Record(resp, req.Metadata)
		if cerr == nil {
			resp.Metrics = mergeFloatMaps(resp.Metrics, costMetrics)
		}
	}

	if e.limiter != nil {
		e.limiter.UpdateUsage(resp, req.Metadata)
	}

	return resp, nil
}

func ensureMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func mergeFloatMaps(dst, src map[string]float64) map[string]float64 {
	if dst == nil {
		dst = map[string]float64{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func errorType(err error) string {
	return typeName(err)
}
