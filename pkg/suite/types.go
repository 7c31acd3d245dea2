// Package suite implements the C6 suite orchestrator: it builds one cycle
// runner per configured cycle (sharing a merger, plugin registries, and a
// middleware-instance cache across the whole run) and drives them with
// either the standard strategy (independent cycles) or the experimental
// strategy (baseline-first, with comparison plugins run against every
// variant).
package suite

import (
	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/registry"
	"github.com/tarsy-labs/dmp/pkg/runner"
)

// CycleEntry is one suite member: a name and its own configuration
// source. Defaults and Pack are shared across every cycle in the suite;
// Data is specific to this one.
type CycleEntry struct {
	Name string
	Data map[string]any
}

// SuiteConfig describes a whole run: shared defaults/pack sources plus an
// ordered list of per-cycle data sources.
type SuiteConfig struct {
	Defaults  map[string]any
	Pack      map[string]any
	Cycles    []CycleEntry
	Preflight map[string]any // optional; synthesized from cycle count + baseline when nil

	// SinkFactory is consulted when a cycle declares no sinks of its own
	// (after defaults/pack/cycle_data merge) — the "caller's factory" tier
	// of spec.md §4.6's sink-resolution precedence, ahead of the
	// orchestrator's own default sink.
	SinkFactory func(cycleName string) ([]artifact.SinkBinding, error)
}

// ComparisonPlugin reduces a baseline payload and a variant payload to a
// diff map, run by the experimental strategy against every non-baseline
// cycle.
type ComparisonPlugin interface {
	Name() string
	Compare(baseline, variant *runner.Payload) (map[string]any, error)
}

// Registries bundles every extension-point registry the orchestrator
// consults while building a cycle: middleware, halt condition, sink,
// transform, aggregation, comparison, datasource, LLM client, rate
// limiter, and cost tracker.
type Registries struct {
	Middleware  *registry.Registry[llm.Middleware]
	Halt        *registry.Registry[runner.HaltPlugin]
	Sink        *registry.Registry[artifact.Sink]
	Transform   *registry.Registry[runner.TransformPlugin]
	Aggregation *registry.Registry[runner.AggregationPlugin]
	Comparison  *registry.Registry[ComparisonPlugin]
	DataSource  *registry.Registry[runner.DataSource]
	LLMClient   *registry.Registry[llm.Client]
	RateLimiter *registry.Registry[llm.RateLimiter]
	CostTracker *registry.Registry[llm.CostTracker]
}

// NewRegistries builds an empty Registries with every sub-registry
// initialized, ready for callers to Register factories into before
// building an Orchestrator.
func NewRegistries() *Registries {
	return &Registries{
		Middleware:  registry.New[llm.Middleware](),
		Halt:        registry.New[runner.HaltPlugin](),
		Sink:        registry.New[artifact.Sink](),
		Transform:   registry.New[runner.TransformPlugin](),
		Aggregation: registry.New[runner.AggregationPlugin](),
		Comparison:  registry.New[ComparisonPlugin](),
		DataSource:  registry.New[runner.DataSource](),
		LLMClient:   registry.New[llm.Client](),
		RateLimiter: registry.New[llm.RateLimiter](),
		CostTracker: registry.New[llm.CostTracker](),
	}
}

// SuiteLoadedMiddleware is probed for on every middleware instance once
// the whole suite's cycle configs are known, before any cycle runs.
type SuiteLoadedMiddleware interface {
	OnSuiteLoaded(experiments []string, preflight map[string]any)
}

// ExperimentStartMiddleware is probed for on a cycle's own middleware set
// before that cycle runs.
type ExperimentStartMiddleware interface {
	OnExperimentStart(name string, metadata map[string]any)
}

// ExperimentCompleteMiddleware is probed for on a cycle's own middleware
// set after that cycle runs.
type ExperimentCompleteMiddleware interface {
	OnExperimentComplete(name string, payload *runner.Payload, metadata map[string]any)
}

// BaselineComparisonMiddleware is probed for on a variant cycle's own
// middleware set once its comparisons against the baseline are computed.
type BaselineComparisonMiddleware interface {
	OnBaselineComparison(name string, comparisons map[string]any)
}

// SuiteCompleteMiddleware is probed for on every middleware instance once
// at the very end of a run.
type SuiteCompleteMiddleware interface {
	OnSuiteComplete()
}

// ExperimentalResult is RunExperimental's return value: which cycle was
// the baseline, plus every cycle's payload (variants carry a
// "baseline_comparison" entry in their Metadata).
type ExperimentalResult struct {
	Baseline string
	Results  map[string]*runner.Payload
}
