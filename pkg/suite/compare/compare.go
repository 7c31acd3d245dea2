// Package compare implements concrete suite.ComparisonPlugin types: small
// reducers over a (baseline, variant) pair of cycle payloads, run by the
// suite orchestrator's experimental strategy after each non-baseline
// cycle completes.
package compare

import (
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/runner"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// RowCount reports the difference in result-row counts between a variant
// and its baseline: variant_count - base_count.
type RowCount struct{}

// NewRowCount builds a RowCount comparison plugin. Takes no options.
func NewRowCount(map[string]any) (*RowCount, error) {
	return &RowCount{}, nil
}

func (r *RowCount) Name() string { return "row_count" }

func (r *RowCount) Compare(baseline, variant *runner.Payload) (map[string]any, error) {
	return map[string]any{"row_delta": len(variant.Results) - len(baseline.Results)}, nil
}

// MetricDelta reports the difference in a named metric's mean value
// (computed only over records where the metric is present) between a
// variant and its baseline.
type MetricDelta struct {
	metric string
}

// NewMetricDelta builds a MetricDelta comparison plugin from decoded
// options: metric (required).
func NewMetricDelta(options map[string]any) (*MetricDelta, error) {
	metric, _ := options["metric"].(string)
	if metric == "" {
		return nil, fmt.Errorf("metric_delta comparison requires a non-empty metric")
	}
	return &MetricDelta{metric: metric}, nil
}

func (m *MetricDelta) Name() string { return "metric_delta_" + m.metric }

func (m *MetricDelta) Compare(baseline, variant *runner.Payload) (map[string]any, error) {
	baseMean, baseN := meanMetric(baseline.Results, m.metric)
	variantMean, variantN := meanMetric(variant.Results, m.metric)
	if baseN == 0 || variantN == 0 {
		return nil, nil
	}
	return map[string]any{
		"baseline_mean": baseMean,
		"variant_mean":  variantMean,
		"delta":         variantMean - baseMean,
	}, nil
}

// FailureRateDelta reports the difference in failure rate (failures /
// (results + failures)) between a variant and its baseline.
type FailureRateDelta struct{}

// NewFailureRateDelta builds a FailureRateDelta comparison plugin. Takes
// no options.
func NewFailureRateDelta(map[string]any) (*FailureRateDelta, error) {
	return &FailureRateDelta{}, nil
}

func (f *FailureRateDelta) Name() string { return "failure_rate_delta" }

func (f *FailureRateDelta) Compare(baseline, variant *runner.Payload) (map[string]any, error) {
	baseRate := failureRate(baseline)
	variantRate := failureRate(variant)
	return map[string]any{
		"baseline_rate": baseRate,
		"variant_rate":  variantRate,
		"delta":         variantRate - baseRate,
	}, nil
}

func failureRate(p *runner.Payload) float64 {
	total := len(p.Results) + len(p.Failures)
	if total == 0 {
		return 0
	}
	return float64(len(p.Failures)) / float64(total)
}

func meanMetric(records []types.Record, metric string) (float64, int) {
	var sum float64
	var count int
	for _, rec := range records {
		v, ok := rec.Metrics[metric]
		f, isFloat := toFloat(v)
		if !ok || !isFloat {
			continue
		}
		sum += f
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
