package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSource reads a YAML file into a ConfigSource, expanding environment
// variables before parsing so that ${VAR}-style references resolve against
// the process environment exactly once.
func LoadSource(name string, precedence int, path string) (ConfigSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigSource{}, NewLoadError(path, ErrConfigNotFound)
		}
		return ConfigSource{}, NewLoadError(path, err)
	}
	raw = ExpandEnv(raw)

	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return ConfigSource{}, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return ConfigSource{Name: name, Data: normalizeYAML(data), Precedence: precedence}, nil
}

// normalizeYAML converts gopkg.in/yaml.v3's map[string]interface{} subtrees
// (already string-keyed for mapping nodes) into the map[string]any /
// []any shapes the merger and cycle-config decoder expect throughout.
func normalizeYAML(v any) map[string]any {
	out, _ := normalizeYAMLValue(v).(map[string]any)
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLValue(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValue(vv)
		}
		return out
	default:
		return v
	}
}

// Initialize loads a named, precedence-ordered set of YAML files (defaults,
// pack, profile, ...), merges them with a fresh Merger, and builds the
// effective CycleConfig for cycleName. Mirrors the numbered-steps loader
// entry point style used elsewhere in this codebase: read -> expand ->
// parse -> merge -> decode -> validate, failing fast at the first error.
func Initialize(cycleName string, paths []string) (*CycleConfig, *Trace, error) {
	sources := make([]ConfigSource, 0, len(paths))
	for i, p := range paths {
		src, err := LoadSource(fmt.Sprintf("source-%d", i), i, p)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, src)
	}

	merger := NewMerger()
	merged, trace := merger.Merge(sources)

	cfg, err := BuildCycleConfig(cycleName, merged)
	if err != nil {
		return nil, nil, err
	}
	return cfg, trace, nil
}
