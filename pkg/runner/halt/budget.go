package halt

import (
	"fmt"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// Budget stops a cycle once a cost tracker's running total for a given
// metric crosses a configured ceiling. Wires the cost-tracker dependency
// into a second halt path alongside the metric-threshold one.
type Budget struct {
	tracker  llm.CostTracker
	metric   string
	ceiling  float64

	mu     sync.Mutex
	reason map[string]any
}

// NewBudget builds a Budget plugin from decoded options: metric (default
// "total_cost", the key read from tracker.Summary()) and ceiling
// (required, numeric).
func NewBudget(tracker llm.CostTracker, options map[string]any) (*Budget, error) {
	if tracker == nil {
		return nil, fmt.Errorf("budget halt plugin requires a cost tracker")
	}
	ceiling, ok := asFloat(options["ceiling"])
	if !ok {
		return nil, fmt.Errorf("budget halt plugin requires a numeric ceiling")
	}
	metric := "total_cost"
	if m, _ := options["metric"].(string); m != "" {
		metric = m
	}
	return &Budget{tracker: tracker, metric: metric, ceiling: ceiling}, nil
}

func (b *Budget) Name() string { return "budget" }

func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reason = nil
}

func (b *Budget) Check(_ *types.Record, metadata map[string]any) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reason != nil {
		return cloneReason(b.reason)
	}

	summary := b.tracker.Summary()
	spent, ok := summary[b.metric]
	if !ok || spent < b.ceiling {
		return nil
	}

	reason := map[string]any{
		"metric":  b.metric,
		"ceiling": b.ceiling,
		"spent":   spent,
	}
	for k, v := range metadata {
		if _, exists := reason[k]; !exists {
			reason[k] = v
		}
	}
	b.reason = reason
	return cloneReason(reason)
}
