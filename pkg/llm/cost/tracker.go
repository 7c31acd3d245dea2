// Package cost implements the LLM executor's CostTracker contract: a
// fixed per-token pricing table with thread-safe running totals.
package cost

import (
	"sync"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Pricing is the per-token price for one provider.
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Tracker accumulates prompt/completion token counts and total cost across
// every Record call. Mutated from any worker goroutine, so every field
// access goes through mu.
type Tracker struct {
	mu sync.Mutex

	pricing map[string]Pricing

	totalPromptTokens     int64
	totalCompletionTokens int64
	totalCost             float64
}

// NewTracker builds a Tracker with a per-provider pricing table, looked up
// via metadata["provider"] (falling back to the "default" entry).
func NewTracker(pricing map[string]Pricing) *Tracker {
	return &Tracker{pricing: pricing}
}

// Record extracts usage from resp.Raw (when it exposes a usage map) or
// resp.Metrics, prices it against the configured table, and accumulates
// running totals. Returns the per-call {prompt_tokens, completion_tokens,
// cost} metrics to be merged into the response.
func (t *Tracker) Record(resp types.LLMResponse, metadata map[string]any) (map[string]float64, error) {
	promptTokens, completionTokens := extractUsage(resp)

	provider := "default"
	if metadata != nil {
		if p, ok := metadata["provider"].(string); ok && p != "" {
			provider = p
		}
	}
	price, ok := t.pricing[provider]
	if !ok {
		price = t.pricing["default"]
	}

	cost := float64(promptTokens)*price.InputPerToken + float64(completionTokens)*price.OutputPerToken

	t.mu.Lock()
	t.totalPromptTokens += int64(promptTokens)
	t.totalCompletionTokens += int64(completionTokens)
	t.totalCost += cost
	t.mu.Unlock()

	return map[string]float64{
		"prompt_tokens":     float64(promptTokens),
		"completion_tokens": float64(completionTokens),
		"cost":              cost,
	}, nil
}

// Summary returns the running totals, or nil if nothing has been recorded.
func (t *Tracker) Summary() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalPromptTokens == 0 && t.totalCompletionTokens == 0 {
		return nil
	}
	return map[string]float64{
		"prompt_tokens":     float64(t.totalPromptTokens),
		"completion_tokens": float64(t.totalCompletionTokens),
		"total_cost":        t.totalCost,
	}
}

func extractUsage(resp types.LLMResponse) (promptTokens, completionTokens int) {
	if resp.Metrics != nil {
		if v, ok := resp.Metrics["prompt_tokens"]; ok {
			promptTokens = int(v)
		}
		if v, ok := resp.Metrics["completion_tokens"]; ok {
			completionTokens = int(v)
		}
	}
	if raw, ok := resp.Raw.(map[string]any); ok {
		if usage, ok := raw["usage"].(map[string]any); ok {
			if v, ok := usage["prompt_tokens"]; ok {
				if n, ok := toInt(v); ok {
					promptTokens = n
				}
			}
			if v, ok := usage["completion_tokens"]; ok {
				if n, ok := toInt(v); ok {
					completionTokens = n
				}
			}
		}
	}
	return promptTokens, completionTokens
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
