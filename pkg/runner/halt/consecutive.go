package halt

import (
	"fmt"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// ConsecutiveFailures stops a cycle once N rows in a row have failed,
// resetting its counter on every success.
type ConsecutiveFailures struct {
	threshold int

	mu      sync.Mutex
	streak  int
	reason  map[string]any
}

// NewConsecutiveFailures builds a ConsecutiveFailures plugin from decoded
// options: threshold (required, >= 1).
func NewConsecutiveFailures(options map[string]any) (*ConsecutiveFailures, error) {
	threshold, ok := asInt(options["threshold"])
	if !ok || threshold < 1 {
		return nil, fmt.Errorf("consecutive_failures halt plugin requires an integer threshold >= 1")
	}
	return &ConsecutiveFailures{threshold: threshold}, nil
}

func (c *ConsecutiveFailures) Name() string { return "consecutive_failures" }

func (c *ConsecutiveFailures) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streak = 0
	c.reason = nil
}

// Check resets the streak on every successful row and never halts from
// here; the halt decision is made in ObserveFailure.
func (c *ConsecutiveFailures) Check(_ *types.Record, _ map[string]any) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streak = 0
	return nil
}

// ObserveFailure implements runner.FailureObserver.
func (c *ConsecutiveFailures) ObserveFailure(f *types.Failure, _ map[string]any) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reason != nil {
		return cloneReason(c.reason)
	}

	c.streak++
	if c.streak < c.threshold {
		return nil
	}

	reason := map[string]any{
		"consecutive_failures": c.streak,
		"threshold":            c.threshold,
		"last_error":           f.Error,
	}
	c.reason = reason
	return cloneReason(reason)
}
