package config

import (
	"sort"

	"dario.cat/mergo"
)

// ConfigSource is one named, precedence-ranked input to a merge.
type ConfigSource struct {
	Name       string
	Data       map[string]any
	Precedence int
}

// appendKeyNames lists the plugin-list keys that use APPEND semantics by
// default — both the base name (row_plugins) and the normalized *_defs
// variant some callers prefer.
var appendKeyNames = map[string]bool{
	"row_plugins":         true,
	"row_plugin_defs":     true,
	"aggregators":         true,
	"aggregator_defs":     true,
	"baselines":           true,
	"baseline_defs":       true,
	"middlewares":         true,
	"middleware_defs":     true,
	"sinks":               true,
	"sink_defs":           true,
	"halt_conditions":     true,
	"halt_condition_defs": true,
}

var deepMergeKeyNames = map[string]bool{
	"llm":         true,
	"datasource":  true,
	"prompts":     true,
	"retry":       true,
	"checkpoint":  true,
	"concurrency": true,
	"early_stop":  true,
}

// Trace records, per key, how the merged value was produced: which
// strategy applied, which source last set it, and (for APPEND/DEEP_MERGE)
// the contributing sources or sub-keys.
type Trace struct {
	entries map[string]*traceEntry
}

type traceEntry struct {
	strategy     MergeStrategy
	lastSource   string
	value        any
	appendedFrom []string
	mergedKeys   []string
}

func newTrace() *Trace {
	return &Trace{entries: make(map[string]*traceEntry)}
}

func (t *Trace) record(key string, strategy MergeStrategy) *traceEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &traceEntry{strategy: strategy}
		t.entries[key] = e
	}
	e.strategy = strategy
	return e
}

// Explain returns the final merged value for key, the name of the source
// that last set it, and whether key was observed during the merge at all.
func (t *Trace) Explain(key string) (value any, source string, ok bool) {
	e, found := t.entries[key]
	if !found {
		return nil, "", false
	}
	return e.value, e.lastSource, true
}

// Strategy returns the merge strategy applied to key, if it was observed.
func (t *Trace) Strategy(key string) (MergeStrategy, bool) {
	e, ok := t.entries[key]
	if !ok {
		return "", false
	}
	return e.strategy, true
}

// Merger combines configuration sources using a per-key strategy table,
// seeded with the default table and extensible via RegisterStrategy.
type Merger struct {
	strategies map[string]MergeStrategy
}

// NewMerger creates a Merger seeded with the default strategy table: known
// plugin-list keys use APPEND, known structural keys use DEEP_MERGE, and
// anything else defaults to OVERRIDE at merge time.
func NewMerger() *Merger {
	m := &Merger{strategies: make(map[string]MergeStrategy)}
	for k := range appendKeyNames {
		m.strategies[k] = StrategyAppend
	}
	for k := range deepMergeKeyNames {
		m.strategies[k] = StrategyDeepMerge
	}
	return m
}

// RegisterStrategy overrides (or adds) the strategy used for key.
func (m *Merger) RegisterStrategy(key string, s MergeStrategy) {
	m.strategies[key] = s
}

func (m *Merger) strategyFor(key string) MergeStrategy {
	if s, ok := m.strategies[key]; ok {
		return s
	}
	return StrategyOverride
}

// Merge combines sources in ascending precedence order (lower precedence
// applied first, so later sources win on OVERRIDE/DEEP_MERGE conflicts) and
// returns the merged map along with a trace explaining how each key was
// produced. Merge never mutates the input sources.
func (m *Merger) Merge(sources []ConfigSource) (map[string]any, *Trace) {
	ordered := make([]ConfigSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Precedence < ordered[j].Precedence
	})

	result := make(map[string]any)
	trace := newTrace()

	seen := make(map[string]bool)
	var orderedKeys []string
	for _, src := range ordered {
		for k := range src.Data {
			if !seen[k] {
				seen[k] = true
				orderedKeys = append(orderedKeys, k)
			}
		}
	}

	for _, key := range orderedKeys {
		strategy := m.strategyFor(key)
		switch strategy {
		case StrategyAppend:
			var acc []any
			entry := trace.record(key, strategy)
			for _, src := range ordered {
				v, ok := src.Data[key]
				if !ok {
					continue
				}
				items, ok := v.([]any)
				if !ok {
					continue
				}
				acc = append(acc, items...)
				entry.appendedFrom = append(entry.appendedFrom, src.Name)
				entry.lastSource = src.Name
			}
			result[key] = acc
			entry.value = acc
		case StrategyDeepMerge:
			merged := map[string]any{}
			entry := trace.record(key, strategy)
			scalar := false
			var scalarVal any
			for _, src := range ordered {
				v, ok := src.Data[key]
				if !ok {
					continue
				}
				asMap, ok := v.(map[string]any)
				if !ok {
					scalar = true
					scalarVal = v
					entry.lastSource = src.Name
					continue
				}
				if err := mergo.Merge(&merged, cloneMap(asMap), mergo.WithOverride); err == nil {
					entry.lastSource = src.Name
					for k := range asMap {
						entry.mergedKeys = appendUnique(entry.mergedKeys, k)
					}
				}
			}
			if scalar && len(merged) == 0 {
				result[key] = scalarVal
			} else {
				result[key] = merged
			}
			entry.value = result[key]
		default: // StrategyOverride
			entry := trace.record(key, StrategyOverride)
			for _, src := range ordered {
				if v, ok := src.Data[key]; ok {
					result[key] = v
					entry.lastSource = src.Name
				}
			}
			entry.value = result[key]
		}
	}

	return result, trace
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
