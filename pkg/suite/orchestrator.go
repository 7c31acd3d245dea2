package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/config"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/registry"
	"github.com/tarsy-labs/dmp/pkg/runner"
	"github.com/tarsy-labs/dmp/pkg/security"
)

// builtCycle is everything the orchestrator needs to run one cycle and
// fire its lifecycle callbacks: the runner itself, the resolved
// configuration, the middleware instances it was wired with (for
// per-cycle lifecycle firing), and the comparison-plugin defs it declares
// against a baseline.
type builtCycle struct {
	name           string
	cfg            *config.CycleConfig
	runner         *runner.Runner
	middlewares    []llm.Middleware
	comparisonDefs []config.PluginDef
	dataSource     runner.DataSource
	llmClient      llm.Client
}

// Orchestrator drives one or more cycles against a shared set of plugin
// registries, deduplicating middleware instances across cycles via a
// stable-key cache exactly as spec.md §4.6 describes.
type Orchestrator struct {
	merger          *config.Merger
	registries      *Registries
	middlewareCache map[string]llm.Middleware
	defaultSink     func() (artifact.Sink, error)

	lastPayloads map[string]*runner.Payload
	lastCycles   map[string]*builtCycle
}

// NewOrchestrator builds an Orchestrator over a fully-populated
// Registries. Registration of concrete plugin factories is the caller's
// responsibility (cmd/dmpctl wires the default set).
func NewOrchestrator(registries *Registries) *Orchestrator {
	return &Orchestrator{
		merger:          config.NewMerger(),
		registries:      registries,
		middlewareCache: make(map[string]llm.Middleware),
		lastCycles:      make(map[string]*builtCycle),
	}
}

// SetDefaultSink installs the sink used for a cycle that declares no sinks
// of its own and whose suite also supplies no per-cycle factory — the
// orchestrator-default fallback named in spec.md §4.6's build-runner
// algorithm.
func (o *Orchestrator) SetDefaultSink(factory func() (artifact.Sink, error)) {
	o.defaultSink = factory
}

// RunStandard iterates the suite's cycles in declared order, building and
// running each independently with no baseline comparison.
func (o *Orchestrator) RunStandard(ctx context.Context, suite SuiteConfig) (map[string]*runner.Payload, error) {
	built, err := o.buildAll(ctx, suite)
	if err != nil {
		return nil, err
	}

	o.fireSuiteLoaded(built, suite)

	results := make(map[string]*runner.Payload, len(built))
	for _, bc := range built {
		payload, err := o.runCycle(ctx, bc)
		if err != nil {
			return results, fmt.Errorf("running cycle %q: %w", bc.name, err)
		}
		results[bc.name] = payload
	}

	o.fireSuiteComplete(built)
	o.recordLastRun(built, results)
	return results, nil
}

// RunExperimental runs the suite's identified baseline cycle first, then
// every remaining cycle in declared order, comparing each variant's
// payload against the baseline's via that cycle's configured comparison
// plugins.
func (o *Orchestrator) RunExperimental(ctx context.Context, suite SuiteConfig) (*ExperimentalResult, error) {
	built, err := o.buildAll(ctx, suite)
	if err != nil {
		return nil, err
	}
	if len(built) == 0 {
		return &ExperimentalResult{Results: map[string]*runner.Payload{}}, nil
	}

	o.fireSuiteLoaded(built, suite)

	baselineIdx := 0
	for i, bc := range built {
		if truthy(bc.cfg.Metadata["is_baseline"]) {
			baselineIdx = i
			break
		}
	}
	baseline := built[baselineIdx]

	results := make(map[string]*runner.Payload, len(built))
	baselinePayload, err := o.runCycle(ctx, baseline)
	if err != nil {
		return nil, fmt.Errorf("running baseline cycle %q: %w", baseline.name, err)
	}
	results[baseline.name] = baselinePayload

	for i, bc := range built {
		if i == baselineIdx {
			continue
		}
		payload, err := o.runCycle(ctx, bc)
		if err != nil {
			return nil, fmt.Errorf("running cycle %q: %w", bc.name, err)
		}

		comparisons, err := o.runComparisons(bc, baselinePayload, payload)
		if err != nil {
			return nil, fmt.Errorf("comparing cycle %q against baseline %q: %w", bc.name, baseline.name, err)
		}
		if len(comparisons) > 0 {
			if payload.Metadata == nil {
				payload.Metadata = map[string]any{}
			}
			payload.Metadata["baseline_comparison"] = comparisons
			o.fireBaselineComparison(bc, comparisons)
		}
		results[bc.name] = payload
	}

	o.fireSuiteComplete(built)
	o.recordLastRun(built, results)
	return &ExperimentalResult{Baseline: baseline.name, Results: results}, nil
}

func (o *Orchestrator) recordLastRun(built []*builtCycle, results map[string]*runner.Payload) {
	o.lastPayloads = results
	o.lastCycles = make(map[string]*builtCycle, len(built))
	for _, bc := range built {
		o.lastCycles[bc.name] = bc
	}
}

func (o *Orchestrator) buildAll(_ context.Context, suite SuiteConfig) ([]*builtCycle, error) {
	built := make([]*builtCycle, 0, len(suite.Cycles))
	for _, entry := range suite.Cycles {
		bc, err := o.buildCycle(entry.Name, suite, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("building cycle %q: %w", entry.Name, err)
		}
		built = append(built, bc)
	}
	return built, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, bc *builtCycle) (*runner.Payload, error) {
	o.fireExperimentStart(bc)

	batch, err := bc.dataSource.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading data source for cycle %q: %w", bc.name, err)
	}

	payload, err := bc.runner.Run(ctx, batch)
	if err != nil {
		return payload, err
	}

	o.fireExperimentComplete(bc, payload)
	return payload, nil
}

// buildCycle implements spec.md §4.6's shared build-runner algorithm: merge
// {defaults, pack?, cycle_data}, decode the CycleConfig, resolve the
// effective security level as the max across all three tiers, and
// materialize every collaborator the runner needs.
func (o *Orchestrator) buildCycle(name string, suite SuiteConfig, cycleData map[string]any) (*builtCycle, error) {
	sources := []config.ConfigSource{{Name: "defaults", Data: suite.Defaults, Precedence: 0}}
	if suite.Pack != nil {
		sources = append(sources, config.ConfigSource{Name: "pack", Data: suite.Pack, Precedence: 1})
	}
	sources = append(sources, config.ConfigSource{Name: "cycle_data", Data: cycleData, Precedence: 2})
	merged, _ := o.merger.Merge(sources)

	cfg, err := config.BuildCycleConfig(name, merged)
	if err != nil {
		return nil, err
	}
	cfg.SecurityLevel = string(resolveSuiteSecurityLevel(suite.Defaults, suite.Pack, cycleData))

	middlewares, err := o.instantiateMiddlewares(cfg.Middlewares)
	if err != nil {
		return nil, fmt.Errorf("middlewares: %w", err)
	}
	haltPlugins, err := instantiateList(o.registries.Halt, cfg.HaltConditions)
	if err != nil {
		return nil, fmt.Errorf("halt conditions: %w", err)
	}
	txPlugins, err := instantiateList(o.registries.Transform, cfg.RowPlugins)
	if err != nil {
		return nil, fmt.Errorf("row plugins: %w", err)
	}
	aggPlugins, err := instantiateList(o.registries.Aggregation, cfg.Aggregators)
	if err != nil {
		return nil, fmt.Errorf("aggregators: %w", err)
	}

	var rateLimiter llm.RateLimiter
	if cfg.RateLimiter.Name != "" {
		rateLimiter, err = o.registries.RateLimiter.Create(cfg.RateLimiter.Name, cfg.RateLimiter.Options)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	var costTracker llm.CostTracker
	if cfg.CostTracker.Name != "" {
		costTracker, err = o.registries.CostTracker.Create(cfg.CostTracker.Name, cfg.CostTracker.Options)
		if err != nil {
			return nil, fmt.Errorf("cost tracker: %w", err)
		}
	}

	sinks, err := o.resolveSinks(name, cfg.Sinks, suite)
	if err != nil {
		return nil, fmt.Errorf("sinks: %w", err)
	}

	llmClient, err := o.instantiateLLMClient(merged["llm"])
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	dataSource, err := o.instantiateDataSource(merged["datasource"])
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	r, err := runner.New(cfg, runner.Deps{
		LLMClient:          llmClient,
		Middlewares:        middlewares,
		RateLimiter:        rateLimiter,
		CostTracker:        costTracker,
		Sinks:              sinks,
		HaltPlugins:        haltPlugins,
		TransformPlugins:   txPlugins,
		AggregationPlugins: aggPlugins,
	})
	if err != nil {
		return nil, err
	}

	return &builtCycle{
		name:           name,
		cfg:            cfg,
		runner:         r,
		middlewares:    middlewares,
		comparisonDefs: decodePluginList(merged["baselines"]),
		dataSource:     dataSource,
		llmClient:      llmClient,
	}, nil
}

func (o *Orchestrator) resolveSinks(name string, defs []config.SinkDef, suite SuiteConfig) ([]artifact.SinkBinding, error) {
	if len(defs) > 0 {
		bindings := make([]artifact.SinkBinding, 0, len(defs))
		for i, d := range defs {
			s, err := o.registries.Sink.Create(d.Plugin, d.Options)
			if err != nil {
				return nil, fmt.Errorf("sink %q: %w", d.ID, err)
			}
			produces := make([]artifact.Descriptor, 0, len(d.Produces))
			for _, pm := range d.Produces {
				produces = append(produces, descriptorFromMap(pm))
			}
			b, err := artifact.NewBinding(d.ID, d.Plugin, s, produces, d.Consumes, d.SecurityLevel, i)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, b)
		}
		return bindings, nil
	}

	if suite.SinkFactory != nil {
		bindings, err := suite.SinkFactory(name)
		if err != nil {
			return nil, err
		}
		if len(bindings) > 0 {
			return bindings, nil
		}
	}

	if o.defaultSink == nil {
		return nil, nil
	}
	s, err := o.defaultSink()
	if err != nil {
		return nil, err
	}
	b, err := artifact.NewBinding(name+":default", "default", s, nil, nil, "", 0)
	if err != nil {
		return nil, err
	}
	return []artifact.SinkBinding{b}, nil
}

func descriptorFromMap(m map[string]any) artifact.Descriptor {
	name, _ := m["name"].(string)
	typ, _ := m["type"].(string)
	schema, _ := m["schema_id"].(string)
	alias, _ := m["alias"].(string)
	level, _ := m["security_level"].(string)
	persist, _ := m["persist"].(bool)
	return artifact.Descriptor{Name: name, Type: typ, SchemaID: schema, Alias: alias, SecurityLevel: level, Persist: persist}
}

func (o *Orchestrator) instantiateMiddlewares(defs []config.PluginDef) ([]llm.Middleware, error) {
	out := make([]llm.Middleware, 0, len(defs))
	for _, d := range defs {
		key := stableKey(d.Name, d.Options)
		if mw, ok := o.middlewareCache[key]; ok {
			out = append(out, mw)
			continue
		}
		mw, err := o.registries.Middleware.Create(d.Name, d.Options)
		if err != nil {
			return nil, err
		}
		o.middlewareCache[key] = mw
		out = append(out, mw)
	}
	return out, nil
}

// allMiddlewareInstances returns every unique middleware instance ever
// created by this orchestrator, sorted by cache key for deterministic
// lifecycle-callback ordering.
func (o *Orchestrator) allMiddlewareInstances() []llm.Middleware {
	keys := make([]string, 0, len(o.middlewareCache))
	for k := range o.middlewareCache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]llm.Middleware, 0, len(keys))
	for _, k := range keys {
		out = append(out, o.middlewareCache[k])
	}
	return out
}

func (o *Orchestrator) instantiateLLMClient(raw any) (llm.Client, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing llm client configuration")
	}
	name, _ := m["name"].(string)
	opts, _ := m["options"].(map[string]any)
	return o.registries.LLMClient.Create(name, opts)
}

func (o *Orchestrator) instantiateDataSource(raw any) (runner.DataSource, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing datasource configuration")
	}
	name, _ := m["name"].(string)
	opts, _ := m["options"].(map[string]any)
	return o.registries.DataSource.Create(name, opts)
}

func instantiateList[T any](reg *registry.Registry[T], defs []config.PluginDef) ([]T, error) {
	out := make([]T, 0, len(defs))
	for _, d := range defs {
		v, err := reg.Create(d.Name, d.Options)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (o *Orchestrator) runComparisons(bc *builtCycle, baseline, variant *runner.Payload) (map[string]any, error) {
	out := map[string]any{}
	for _, def := range bc.comparisonDefs {
		plugin, err := o.registries.Comparison.Create(def.Name, def.Options)
		if err != nil {
			return nil, err
		}
		diff, err := plugin.Compare(baseline, variant)
		if err != nil {
			return nil, err
		}
		if len(diff) > 0 {
			out[plugin.Name()] = diff
		}
	}
	return out, nil
}

// resolveSuiteSecurityLevel implements spec.md §4.6 step 6: the effective
// security level is the maximum of cycle / pack / defaults levels, not the
// merged-map override winner CycleConfig.SecurityLevel would otherwise
// carry.
func resolveSuiteSecurityLevel(sources ...map[string]any) security.Level {
	level := security.Unknown
	for _, s := range sources {
		if s == nil {
			continue
		}
		raw, _ := s["security_level"].(string)
		level = security.Max(level, security.Normalize(raw))
	}
	return level
}

func decodePluginList(v any) []config.PluginDef {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []config.PluginDef
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, config.PluginDef{Name: s})
			continue
		}
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		opts, _ := m["options"].(map[string]any)
		out = append(out, config.PluginDef{Name: name, Options: opts})
	}
	return out
}

// stableKey produces the orchestrator's middleware-cache key: the plugin
// name plus a deterministic JSON encoding of its options (encoding/json
// sorts map keys on marshal, so equal option sets always collide).
func stableKey(name string, options map[string]any) string {
	encoded, err := json.Marshal(options)
	if err != nil {
		return fmt.Sprintf("%s:%v", name, options)
	}
	return name + ":" + string(encoded)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "" && b != "false" && b != "0"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// --- lifecycle firing, each isolated so a misbehaving middleware can never
// abort the suite or mask another middleware's callback.

func (o *Orchestrator) fireSuiteLoaded(built []*builtCycle, suite SuiteConfig) {
	names := make([]string, len(built))
	for i, bc := range built {
		names[i] = bc.name
	}
	preflight := suite.Preflight
	if preflight == nil {
		preflight = map[string]any{"cycle_count": len(built)}
	}
	for _, mw := range o.allMiddlewareInstances() {
		if sl, ok := mw.(SuiteLoadedMiddleware); ok {
			safeCall("on_suite_loaded", func() { sl.OnSuiteLoaded(names, preflight) })
		}
	}
}

func (o *Orchestrator) fireExperimentStart(bc *builtCycle) {
	for _, mw := range bc.middlewares {
		if es, ok := mw.(ExperimentStartMiddleware); ok {
			safeCall("on_experiment_start", func() { es.OnExperimentStart(bc.name, bc.cfg.Metadata) })
		}
	}
}

func (o *Orchestrator) fireExperimentComplete(bc *builtCycle, payload *runner.Payload) {
	for _, mw := range bc.middlewares {
		if ec, ok := mw.(ExperimentCompleteMiddleware); ok {
			safeCall("on_experiment_complete", func() { ec.OnExperimentComplete(bc.name, payload, bc.cfg.Metadata) })
		}
	}
}

func (o *Orchestrator) fireBaselineComparison(bc *builtCycle, comparisons map[string]any) {
	for _, mw := range bc.middlewares {
		if bcm, ok := mw.(BaselineComparisonMiddleware); ok {
			safeCall("on_baseline_comparison", func() { bcm.OnBaselineComparison(bc.name, comparisons) })
		}
	}
}

func (o *Orchestrator) fireSuiteComplete(built []*builtCycle) {
	_ = built
	for _, mw := range o.allMiddlewareInstances() {
		if sc, ok := mw.(SuiteCompleteMiddleware); ok {
			safeCall("on_suite_complete", func() { sc.OnSuiteComplete() })
		}
	}
}

func safeCall(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("middleware lifecycle hook panicked", "hook", hook, "error", r)
		}
	}()
	fn()
}
