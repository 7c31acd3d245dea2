// Package runner implements the C3 cycle runner: it builds the row
// backlog from a batch, dispatches rows sequentially or across a worker
// pool, runs each row through the prompt/LLM/transform chain, evaluates
// halt conditions, aggregates results, and hands the assembled payload to
// the C5 artifact pipeline.
package runner

import (
	"context"

	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// Batch is one data source's output: the rows to process plus any
// declared attributes (notably security_level) the core consults.
type Batch struct {
	Rows       []map[string]any
	Attributes map[string]any
}

// DataSource loads one Batch. Concrete implementations (CSV, in-memory
// slice) live in pkg/datasource; the core only depends on this contract.
type DataSource interface {
	Load(ctx context.Context) (Batch, error)
}

// TransformPlugin derives additional metrics from a row's response(s)
// during row processing. Keyed "default" in responses when no criteria
// are configured.
type TransformPlugin interface {
	Name() string
	Transform(row types.RowContext, responses map[string]types.LLMResponse) (map[string]any, error)
}

// AggregationPlugin summarizes the full, ordered result set once a cycle
// completes.
type AggregationPlugin interface {
	Name() string
	Aggregate(records []types.Record) (map[string]any, error)
}

// HaltPlugin observes successful records one at a time and may signal
// that the cycle should stop early.
type HaltPlugin interface {
	Name() string
	Reset()
	Check(rec *types.Record, meta map[string]any) map[string]any
}

// FailureObserver is an optional capability a HaltPlugin may implement
// (probed for once via type assertion, the same way artifact sinks probe
// Produces/Consumes/Finalizer) to also react to failed rows — e.g. to
// count consecutive failures, which Check's success-only callback can't
// see on its own.
type FailureObserver interface {
	ObserveFailure(f *types.Failure, meta map[string]any) map[string]any
}

// Deps bundles every collaborator Runner needs besides the CycleConfig
// itself.
type Deps struct {
	LLMClient          llm.Client
	Middlewares        []llm.Middleware
	RateLimiter        llm.RateLimiter
	CostTracker        llm.CostTracker
	Sinks              []artifact.SinkBinding
	HaltPlugins        []HaltPlugin
	TransformPlugins   []TransformPlugin
	AggregationPlugins []AggregationPlugin
}

// Payload is the cycle's single output value, mirroring spec.md §4.3's
// output shape.
type Payload struct {
	RunID       string
	Results     []types.Record
	Failures    []types.Failure
	Aggregates  map[string]any
	CostSummary map[string]float64
	EarlyStop   map[string]any
	Metadata    map[string]any
}

// toMap renders Payload into the plain map[string]any shape sinks
// receive as the pipeline's write payload.
func (p *Payload) toMap() map[string]any {
	m := map[string]any{"results": p.Results}
	if p.Failures != nil {
		m["failures"] = p.Failures
	}
	if p.Aggregates != nil {
		m["aggregates"] = p.Aggregates
	}
	if p.CostSummary != nil {
		m["cost_summary"] = p.CostSummary
	}
	if p.EarlyStop != nil {
		m["early_stop"] = p.EarlyStop
	}
	m["metadata"] = p.Metadata
	return m
}

type rowTask struct {
	OriginalIndex int
	Row           types.RowContext
	RowID         string
}
