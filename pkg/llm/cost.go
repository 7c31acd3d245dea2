package llm

import "github.com/tarsy-labs/dmp/pkg/types"

// CostTracker accumulates spend across calls and returns per-call cost
// metrics to be merged into the response.
type CostTracker interface {
	Record(resp types.LLMResponse, metadata map[string]any) (map[string]float64, error)
	// Summary returns the running totals, or nil if nothing has been
	// recorded yet.
	Summary() map[string]float64
}
