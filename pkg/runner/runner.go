package runner

import (
	"fmt"
	"time"

	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/config"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/prompt"
	"github.com/tarsy-labs/dmp/pkg/runner/halt"
)

// Runner executes one cycle: it owns the compiled prompt templates, the
// LLM executor, the halt/transform/aggregation plugins, the checkpoint,
// and the artifact pipeline the cycle hands its payload to.
type Runner struct {
	cfg *config.CycleConfig

	llmExec     *llm.Executor
	rateLimiter llm.RateLimiter
	costTracker llm.CostTracker
	pipeline    *artifact.Pipeline

	haltPlugins []HaltPlugin
	txPlugins   []TransformPlugin
	aggPlugins  []AggregationPlugin

	checkpoint *Checkpoint

	systemTmpl    *prompt.CompiledTemplate
	userTmpl      *prompt.CompiledTemplate
	criteriaTmpls map[string]*prompt.CompiledTemplate
}

// New builds a Runner for cfg. Prompt templates are compiled, the sink
// dependency order is resolved, and the checkpoint file is loaded — all
// eagerly, so construction fails fast rather than mid-run.
func New(cfg *config.CycleConfig, deps Deps) (*Runner, error) {
	compiler := prompt.NewCompiler()

	systemTmpl, err := compiler.Compile(cfg.Name+":system", cfg.SystemPrompt, cfg.PromptDefaults)
	if err != nil {
		return nil, err
	}

	retryCfg := llm.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      time.Duration(cfg.Retry.InitialDelaySecs * float64(time.Second)),
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}
	llmExec := llm.NewExecutor(deps.LLMClient, deps.Middlewares, retryCfg, deps.RateLimiter, deps.CostTracker)

	r := &Runner{
		cfg:           cfg,
		llmExec:       llmExec,
		rateLimiter:   deps.RateLimiter,
		costTracker:   deps.CostTracker,
		haltPlugins:   deps.HaltPlugins,
		txPlugins:     deps.TransformPlugins,
		aggPlugins:    deps.AggregationPlugins,
		systemTmpl:    systemTmpl,
		criteriaTmpls: make(map[string]*prompt.CompiledTemplate, len(cfg.Criteria)),
	}

	if len(cfg.Criteria) > 0 {
		for _, crit := range cfg.Criteria {
			defaults := mergeVars(cfg.PromptDefaults, crit.Defaults)
			tmpl, err := compiler.Compile(cfg.Name+":criteria:"+crit.Name, crit.Template, defaults)
			if err != nil {
				return nil, err
			}
			r.criteriaTmpls[crit.Name] = tmpl
		}
	} else {
		userTmpl, err := compiler.Compile(cfg.Name+":user", cfg.UserPrompt, cfg.PromptDefaults)
		if err != nil {
			return nil, err
		}
		r.userTmpl = userTmpl
	}

	if len(r.haltPlugins) == 0 && len(cfg.ThresholdShorthand) > 0 {
		thresholdPlugin, err := halt.NewThreshold(cfg.ThresholdShorthand)
		if err != nil {
			return nil, fmt.Errorf("cycle %s: building threshold halt plugin from shorthand: %w", cfg.Name, err)
		}
		r.haltPlugins = []HaltPlugin{thresholdPlugin}
	}

	checkpoint, err := NewCheckpoint(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	r.checkpoint = checkpoint

	pipeline, err := artifact.NewPipeline(deps.Sinks)
	if err != nil {
		return nil, err
	}
	r.pipeline = pipeline

	return r, nil
}

// mergeVars layers override on top of base, neither of which is mutated.
func mergeVars(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
