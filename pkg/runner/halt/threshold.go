// Package halt implements concrete halt-condition plugins for the C3
// cycle runner. Each type satisfies runner.HaltPlugin structurally
// (Name/Reset/Check) without importing pkg/runner, so pkg/runner can
// depend on this package without a cycle.
package halt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Threshold stops a cycle once a dotted-path metric crosses a configured
// threshold, after at least min_rows rows have carried that metric.
// Ported from the reference ThresholdEarlyStopPlugin.
type Threshold struct {
	metric     string
	threshold  float64
	comparison string
	minRows    int
	label      string

	mu           sync.Mutex
	rowsObserved int
	reason       map[string]any
}

// NewThreshold builds a Threshold from decoded shorthand/plugin options:
// metric (required), threshold (required, numeric or numeric string),
// comparison (one of gte|gt|lte|lt, default gte), min_rows (default 1),
// label (optional).
func NewThreshold(options map[string]any) (*Threshold, error) {
	metric, _ := options["metric"].(string)
	if metric == "" {
		return nil, fmt.Errorf("threshold halt plugin requires a non-empty metric")
	}

	threshold, ok := asFloat(options["threshold"])
	if !ok {
		return nil, fmt.Errorf("threshold halt plugin: invalid threshold value %v", options["threshold"])
	}

	comparison := "gte"
	if c, _ := options["comparison"].(string); c != "" {
		comparison = strings.ToLower(c)
	}
	switch comparison {
	case "gte", "gt", "lte", "lt":
	default:
		comparison = "gte"
	}

	minRows := 1
	if v, ok := asInt(options["min_rows"]); ok && v > 1 {
		minRows = v
	}

	label, _ := options["label"].(string)

	return &Threshold{
		metric:     metric,
		threshold:  threshold,
		comparison: comparison,
		minRows:    minRows,
		label:      label,
	}, nil
}

func (t *Threshold) Name() string { return "threshold" }

func (t *Threshold) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowsObserved = 0
	t.reason = nil
}

func (t *Threshold) Check(rec *types.Record, metadata map[string]any) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reason != nil {
		return cloneReason(t.reason)
	}

	value, ok := extractMetric(rec.Metrics, t.metric)
	if !ok {
		return nil
	}
	numeric, ok := asFloat(value)
	if !ok {
		return nil
	}

	t.rowsObserved++
	if t.rowsObserved < t.minRows {
		return nil
	}
	if !compare(numeric, t.threshold, t.comparison) {
		return nil
	}

	reason := map[string]any{
		"metric":        t.metric,
		"comparison":    t.comparison,
		"threshold":     t.threshold,
		"value":         numeric,
		"rows_observed": t.rowsObserved,
	}
	if t.label != "" {
		reason["label"] = t.label
	}
	for k, v := range metadata {
		if _, exists := reason[k]; !exists {
			reason[k] = v
		}
	}
	t.reason = reason
	return cloneReason(reason)
}

func extractMetric(metrics map[string]any, path string) (any, bool) {
	var current any = metrics
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(value, threshold float64, comparison string) bool {
	switch comparison {
	case "gt":
		return value > threshold
	case "lte":
		return value <= threshold
	case "lt":
		return value < threshold
	default:
		return value >= threshold
	}
}

func cloneReason(reason map[string]any) map[string]any {
	out := make(map[string]any, len(reason))
	for k, v := range reason {
		out[k] = v
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
