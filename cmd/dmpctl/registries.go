package main

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/artifact/sink"
	"github.com/tarsy-labs/dmp/pkg/datasource"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/llm/cost"
	"github.com/tarsy-labs/dmp/pkg/llm/middleware"
	"github.com/tarsy-labs/dmp/pkg/llm/ratelimit"
	"github.com/tarsy-labs/dmp/pkg/runner"
	"github.com/tarsy-labs/dmp/pkg/runner/aggregate"
	"github.com/tarsy-labs/dmp/pkg/runner/halt"
	"github.com/tarsy-labs/dmp/pkg/runner/transform"
	"github.com/tarsy-labs/dmp/pkg/suite"
	"github.com/tarsy-labs/dmp/pkg/suite/compare"
)

// buildRegistries registers the CLI's default set of concrete plugin
// factories against a fresh suite.Registries: in-memory/CSV datasources,
// filesystem/memory sinks, the stub LLM client, every runner plugin family
// from pkg/runner/{halt,transform,aggregate}, pkg/suite/compare's
// comparison plugins, and the llm package's rate limiter, cost tracker,
// and middleware families. A single shared cost.Tracker backs both the
// "budget" halt condition and the "fixed_price" cost tracker plugin so
// budget enforcement sees the same running totals the executor records.
func buildRegistries() *suite.Registries {
	regs := suite.NewRegistries()
	tracker := cost.NewTracker(map[string]cost.Pricing{
		"default": {InputPerToken: 0.000001, OutputPerToken: 0.000002},
	})

	regs.DataSource.Register("slice", func(opts map[string]any) (runner.DataSource, error) {
		return datasource.NewSliceFromOptions(opts)
	})
	regs.DataSource.Register("csv", func(opts map[string]any) (runner.DataSource, error) {
		return datasource.NewCSVFromOptions(opts)
	})

	regs.Sink.Register("memory", func(map[string]any) (artifact.Sink, error) {
		return sink.NewMemory(), nil
	})
	regs.Sink.Register("file", func(opts map[string]any) (artifact.Sink, error) {
		path, _ := opts["path"].(string)
		name, _ := opts["name"].(string)
		return sink.NewFile(path, name), nil
	})
	regs.Sink.Register("zip", func(opts map[string]any) (artifact.Sink, error) {
		path, _ := opts["path"].(string)
		name, _ := opts["name"].(string)
		return sink.NewZip(path, name), nil
	})

	regs.LLMClient.Register("stub", func(opts map[string]any) (llm.Client, error) {
		return newStubClient(opts)
	})

	regs.Halt.Register("threshold", func(opts map[string]any) (runner.HaltPlugin, error) {
		return halt.NewThreshold(opts)
	})
	regs.Halt.Register("consecutive_failures", func(opts map[string]any) (runner.HaltPlugin, error) {
		return halt.NewConsecutiveFailures(opts)
	})
	regs.Halt.Register("budget", func(opts map[string]any) (runner.HaltPlugin, error) {
		return halt.NewBudget(tracker, opts)
	})

	regs.Transform.Register("passthrough", func(opts map[string]any) (runner.TransformPlugin, error) {
		return transform.NewPassthrough(opts)
	})
	regs.Transform.Register("json_extract", func(opts map[string]any) (runner.TransformPlugin, error) {
		return transform.NewJSONExtract(opts)
	})

	regs.Aggregation.Register("row_count", func(opts map[string]any) (runner.AggregationPlugin, error) {
		return aggregate.NewRowCount(opts)
	})
	regs.Aggregation.Register("mean_metric", func(opts map[string]any) (runner.AggregationPlugin, error) {
		return aggregate.NewMeanMetric(opts)
	})
	regs.Aggregation.Register("success_rate", func(opts map[string]any) (runner.AggregationPlugin, error) {
		return aggregate.NewSuccessRate(opts)
	})

	regs.Comparison.Register("row_count", func(opts map[string]any) (suite.ComparisonPlugin, error) {
		return compare.NewRowCount(opts)
	})
	regs.Comparison.Register("metric_delta", func(opts map[string]any) (suite.ComparisonPlugin, error) {
		return compare.NewMetricDelta(opts)
	})
	regs.Comparison.Register("failure_rate_delta", func(opts map[string]any) (suite.ComparisonPlugin, error) {
		return compare.NewFailureRateDelta(opts)
	})

	regs.RateLimiter.Register("fixed_window", func(opts map[string]any) (llm.RateLimiter, error) {
		requests, _ := opts["requests"].(int)
		perSeconds, _ := opts["per_seconds"].(float64)
		return ratelimit.NewFixedWindow(requests, perSeconds)
	})
	regs.RateLimiter.Register("adaptive", func(opts map[string]any) (llm.RateLimiter, error) {
		rpm, _ := opts["requests_per_minute"].(int)
		tpm, _ := opts["tokens_per_minute"].(int)
		interval := time.Second
		if secs, ok := opts["interval_seconds"].(float64); ok && secs > 0 {
			interval = time.Duration(secs * float64(time.Second))
		}
		return ratelimit.NewAdaptive(rpm, tpm, interval)
	})

	regs.CostTracker.Register("fixed_price", func(map[string]any) (llm.CostTracker, error) {
		return tracker, nil
	})

	regs.Middleware.Register("health_monitor", func(map[string]any) (llm.Middleware, error) {
		return middleware.NewHealthMonitor(), nil
	})
	regs.Middleware.Register("redact", func(opts map[string]any) (llm.Middleware, error) {
		return middleware.NewRedactor(opts)
	})
	regs.Middleware.Register("tracing", func(map[string]any) (llm.Middleware, error) {
		return middleware.NewTracing(otel.Tracer("dmp")), nil
	})
	regs.Middleware.Register("metrics", func(map[string]any) (llm.Middleware, error) {
		return middleware.NewMetrics(otel.Meter("dmp"))
	})

	return regs
}
