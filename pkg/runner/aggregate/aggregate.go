// Package aggregate implements concrete AggregationPlugin types for the
// C3 cycle runner: whole-result-set summaries computed once a cycle's
// rows have all been processed.
package aggregate

import (
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// RowCount reports how many records were produced, under a configurable
// key (default "count").
type RowCount struct {
	key string
}

// NewRowCount builds a RowCount aggregator from decoded options: key
// (default "count").
func NewRowCount(options map[string]any) (*RowCount, error) {
	key := "count"
	if k, _ := options["key"].(string); k != "" {
		key = k
	}
	return &RowCount{key: key}, nil
}

func (r *RowCount) Name() string { return "row_count" }

func (r *RowCount) Aggregate(records []types.Record) (map[string]any, error) {
	return map[string]any{r.key: len(records)}, nil
}

// MeanMetric averages one numeric metric across every record that
// carries it, reporting both the mean and how many records contributed.
type MeanMetric struct {
	metric string
}

// NewMeanMetric builds a MeanMetric aggregator from decoded options:
// metric (required).
func NewMeanMetric(options map[string]any) (*MeanMetric, error) {
	metric, _ := options["metric"].(string)
	if metric == "" {
		return nil, fmt.Errorf("mean_metric aggregation requires a non-empty metric")
	}
	return &MeanMetric{metric: metric}, nil
}

func (m *MeanMetric) Name() string { return "mean_" + m.metric }

func (m *MeanMetric) Aggregate(records []types.Record) (map[string]any, error) {
	var sum float64
	var count int
	for _, rec := range records {
		v, ok := rec.Metrics[m.metric]
		f, isFloat := toFloat(v)
		if !ok || !isFloat {
			continue
		}
		sum += f
		count++
	}
	if count == 0 {
		return nil, nil
	}
	return map[string]any{"mean": sum / float64(count), "sample_size": count}, nil
}

// SuccessRate reports the fraction of successful records whose
// configured boolean metric (default "success") is truthy — e.g. a
// pass/fail judgment a transform plugin derived from the response.
// AggregationPlugin only ever sees rows that already produced a usable
// response (true request failures are tracked separately in
// metadata.retry_summary.exhausted), so this measures judged success
// within that set, not raw request success.
type SuccessRate struct {
	metric string
}

// NewSuccessRate builds a SuccessRate aggregator from decoded options:
// metric (default "success").
func NewSuccessRate(options map[string]any) (*SuccessRate, error) {
	metric := "success"
	if m, _ := options["metric"].(string); m != "" {
		metric = m
	}
	return &SuccessRate{metric: metric}, nil
}

func (s *SuccessRate) Name() string { return "success_rate" }

func (s *SuccessRate) Aggregate(records []types.Record) (map[string]any, error) {
	if len(records) == 0 {
		return nil, nil
	}
	successful := 0
	for _, rec := range records {
		if truthy(rec.Metrics[s.metric]) {
			successful++
		}
	}
	return map[string]any{"rate": float64(successful) / float64(len(records)), "sample_size": len(records)}, nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b != "" && b != "false" && b != "0"
	default:
		return false
	}
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
