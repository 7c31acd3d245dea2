package config

import "fmt"

// PluginDef names a registered plugin plus the options its factory needs.
type PluginDef struct {
	Name    string
	Options map[string]any
}

// CriterionDef is one entry of a multi-criteria prompt configuration.
type CriterionDef struct {
	Name     string
	Template string
	Defaults map[string]any
}

// SinkDef names a sink plugin plus its static artifact produces/consumes
// configuration, read from CycleConfig.Sinks in declared order.
type SinkDef struct {
	ID             string
	Plugin         string
	Options        map[string]any
	Produces       []map[string]any
	Consumes       []any // string, or map{token|name, mode}
	SecurityLevel  string
}

// RetryConfig controls C4's retry loop.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelaySecs  float64
	BackoffMultiplier float64
}

// ConcurrencyConfig controls C3's scheduling decision.
type ConcurrencyConfig struct {
	Enabled           bool
	MaxWorkers        int
	BacklogThreshold  int // default 50
	UtilizationPause  float64 // default 0.8
	PauseIntervalSecs float64 // default 0.5
}

// CheckpointConfig controls C3's resume behavior.
type CheckpointConfig struct {
	Enabled bool
	Path    string // default "checkpoint.jsonl"
	Field   string // default "APPID"
}

// CycleConfig is the fully-merged, decoded, validated configuration for one
// cycle run — the product of C1's merge plus structural validation.
type CycleConfig struct {
	Name string

	SystemPrompt   string
	UserPrompt     string
	PromptFields   []string
	PromptDefaults map[string]any
	Criteria       []CriterionDef

	RowPlugins    []PluginDef
	Aggregators   []PluginDef
	HaltConditions []PluginDef
	// ThresholdShorthand, when HaltConditions is empty, synthesizes a single
	// threshold halt plugin from shorthand keys (metric/threshold/comparison/min_rows).
	ThresholdShorthand map[string]any

	Sinks       []SinkDef
	Middlewares []PluginDef

	Retry       RetryConfig
	Concurrency ConcurrencyConfig
	Checkpoint  CheckpointConfig

	RateLimiter PluginDef
	CostTracker PluginDef

	SecurityLevel string
	Metadata      map[string]any // free-form, orchestrator-interpreted (is_baseline, comparisons, ...)
}

func defaultConcurrency() ConcurrencyConfig {
	return ConcurrencyConfig{BacklogThreshold: 50, UtilizationPause: 0.8, PauseIntervalSecs: 0.5}
}

func defaultCheckpoint() CheckpointConfig {
	return CheckpointConfig{Path: "checkpoint.jsonl", Field: "APPID"}
}

func defaultRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1, InitialDelaySecs: 0, BackoffMultiplier: 1}
}

// BuildCycleConfig decodes an already-merged map[string]any (produced by
// Merger.Merge) into a typed CycleConfig and validates it structurally.
// Unlike LoadSource, this never touches YAML: the input is already an
// in-process map, so a small hand-written decoder is used instead of a
// generic unmarshaler.
func BuildCycleConfig(name string, merged map[string]any) (*CycleConfig, error) {
	cfg := &CycleConfig{
		Name:        name,
		Retry:       defaultRetry(),
		Concurrency: defaultConcurrency(),
		Checkpoint:  defaultCheckpoint(),
	}

	if prompts, ok := asMap(merged["prompts"]); ok {
		cfg.SystemPrompt, _ = asString(prompts["system"])
		cfg.UserPrompt, _ = asString(prompts["user"])
		if fields, ok := prompts["fields"].([]any); ok {
			cfg.PromptFields = toStringSlice(fields)
		}
		if defaults, ok := asMap(prompts["defaults"]); ok {
			cfg.PromptDefaults = defaults
		}
		if rawCriteria, ok := prompts["criteria"].([]any); ok {
			for _, rc := range rawCriteria {
				cm, ok := asMap(rc)
				if !ok {
					continue
				}
				name, _ := asString(cm["name"])
				tmpl, _ := asString(cm["template"])
				defaults, _ := asMap(cm["defaults"])
				cfg.Criteria = append(cfg.Criteria, CriterionDef{Name: name, Template: tmpl, Defaults: defaults})
			}
		}
	}

	cfg.RowPlugins = decodePluginDefs(merged["row_plugins"])
	cfg.Aggregators = decodePluginDefs(merged["aggregators"])
	cfg.HaltConditions = decodePluginDefs(merged["halt_conditions"])
	if shorthand, ok := asMap(merged["halt"]); ok {
		cfg.ThresholdShorthand = shorthand
	}
	cfg.Middlewares = decodePluginDefs(merged["middlewares"])

	if rawSinks, ok := merged["sinks"].([]any); ok {
		for _, rs := range rawSinks {
			sm, ok := asMap(rs)
			if !ok {
				continue
			}
			id, _ := asString(sm["id"])
			plugin, _ := asString(sm["plugin"])
			opts, _ := asMap(sm["options"])
			level, _ := asString(sm["security_level"])
			def := SinkDef{ID: id, Plugin: plugin, Options: opts, SecurityLevel: level}
			if produces, ok := sm["produces"].([]any); ok {
				for _, p := range produces {
					if pm, ok := asMap(p); ok {
						def.Produces = append(def.Produces, pm)
					}
				}
			}
			if consumes, ok := sm["consumes"].([]any); ok {
				def.Consumes = consumes
			}
			cfg.Sinks = append(cfg.Sinks, def)
		}
	}

	if retry, ok := asMap(merged["retry"]); ok {
		if v, ok := asInt(retry["max_attempts"]); ok {
			cfg.Retry.MaxAttempts = v
		}
		if v, ok := asFloat(retry["initial_delay_seconds"]); ok {
			cfg.Retry.InitialDelaySecs = v
		}
		if v, ok := asFloat(retry["backoff_multiplier"]); ok {
			cfg.Retry.BackoffMultiplier = v
		}
	}

	if conc, ok := asMap(merged["concurrency"]); ok {
		if v, ok := asBool(conc["enabled"]); ok {
			cfg.Concurrency.Enabled = v
		}
		if v, ok := asInt(conc["max_workers"]); ok {
			cfg.Concurrency.MaxWorkers = v
		}
		if v, ok := asInt(conc["backlog_threshold"]); ok {
			cfg.Concurrency.BacklogThreshold = v
		}
		if v, ok := asFloat(conc["utilization_pause"]); ok {
			cfg.Concurrency.UtilizationPause = v
		}
		if v, ok := asFloat(conc["pause_interval_seconds"]); ok {
			cfg.Concurrency.PauseIntervalSecs = v
		}
	}

	if cp, ok := asMap(merged["checkpoint"]); ok {
		if v, ok := asBool(cp["enabled"]); ok {
			cfg.Checkpoint.Enabled = v
		}
		if v, ok := asString(cp["path"]); ok && v != "" {
			cfg.Checkpoint.Path = v
		}
		if v, ok := asString(cp["field"]); ok && v != "" {
			cfg.Checkpoint.Field = v
		}
	}

	if rl, ok := asMap(merged["rate_limiter"]); ok {
		name, _ := asString(rl["name"])
		opts, _ := asMap(rl["options"])
		cfg.RateLimiter = PluginDef{Name: name, Options: opts}
	}
	if ct, ok := asMap(merged["cost_tracker"]); ok {
		name, _ := asString(ct["name"])
		opts, _ := asMap(ct["options"])
		cfg.CostTracker = PluginDef{Name: name, Options: opts}
	}

	cfg.SecurityLevel, _ = asString(merged["security_level"])
	if md, ok := asMap(merged["metadata"]); ok {
		cfg.Metadata = md
	}

	if err := validateCycleConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateCycleConfig(cfg *CycleConfig) error {
	if cfg.UserPrompt == "" && len(cfg.Criteria) == 0 {
		return NewValidationError("cycle", cfg.Name, "prompts", ErrEmptyPrompt)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return NewValidationError("cycle", cfg.Name, "retry.max_attempts", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	for _, s := range cfg.Sinks {
		if s.ID == "" || s.Plugin == "" {
			return NewValidationError("sink", s.ID, "id/plugin", ErrMissingRequiredField)
		}
	}
	return nil
}

func decodePluginDefs(v any) []PluginDef {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []PluginDef
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, PluginDef{Name: s})
			continue
		}
		m, ok := asMap(item)
		if !ok {
			continue
		}
		name, _ := asString(m["name"])
		opts, _ := asMap(m["options"])
		out = append(out, PluginDef{Name: name, Options: opts})
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
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

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
