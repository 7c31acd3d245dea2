package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-labs/dmp/pkg/config"
	"github.com/tarsy-labs/dmp/pkg/security"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// runState collects everything a row's outcome needs to update under a
// single lock: the results/failures slices, the checkpoint write, and
// halt-condition evaluation. Sharing one lock across all three mirrors
// the reference runner's single threading.Lock() guarding
// handle_success/handle_failure.
type runState struct {
	mu sync.Mutex

	results  []indexedRecord
	failures []types.Failure

	haltPlugins []HaltPlugin
	stopped     atomic.Bool
	reason      map[string]any

	checkpoint *Checkpoint
}

type indexedRecord struct {
	idx int
	rec types.Record
}

func (s *runState) isStopped() bool {
	return s.stopped.Load()
}

func (s *runState) acceptSuccess(idx int, rec types.Record, rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, indexedRecord{idx: idx, rec: rec})
	if s.checkpoint != nil && rowID != "" {
		if err := s.checkpoint.Mark(rowID); err != nil {
			slog.Warn("checkpoint write failed", "row_id", rowID, "error", err)
		}
	}
	s.evaluateHaltLocked(&rec, idx)
}

func (s *runState) acceptFailure(f types.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	s.evaluateFailureLocked(&f)
}

func (s *runState) evaluateFailureLocked(f *types.Failure) {
	if s.stopped.Load() {
		return
	}
	for _, p := range s.haltPlugins {
		observer, ok := p.(FailureObserver)
		if !ok {
			continue
		}
		reason := safeObserveFailure(observer, f)
		if len(reason) == 0 {
			continue
		}
		out := make(map[string]any, len(reason)+1)
		for k, v := range reason {
			out[k] = v
		}
		if _, ok := out["plugin"]; !ok {
			out["plugin"] = p.Name()
		}
		s.reason = out
		s.stopped.Store(true)
		return
	}
}

func safeObserveFailure(o FailureObserver, f *types.Failure) (reason map[string]any) {
	defer func() {
		if rc := recover(); rc != nil {
			reason = nil
		}
	}()
	return o.ObserveFailure(f, nil)
}

func (s *runState) evaluateHaltLocked(rec *types.Record, idx int) {
	if s.stopped.Load() {
		return
	}
	meta := map[string]any{"row_index": idx}
	for _, p := range s.haltPlugins {
		reason := safeCheckHalt(p, rec, meta)
		if len(reason) == 0 {
			continue
		}
		out := make(map[string]any, len(reason)+2)
		for k, v := range reason {
			out[k] = v
		}
		if _, ok := out["plugin"]; !ok {
			out["plugin"] = p.Name()
		}
		for k, v := range meta {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
		s.reason = out
		s.stopped.Store(true)
		return
	}
}

// safeCheckHalt isolates a misbehaving halt plugin so a panic in one
// never stops evaluation of the others (or crashes the cycle).
func safeCheckHalt(p HaltPlugin, rec *types.Record, meta map[string]any) (reason map[string]any) {
	defer func() {
		if rc := recover(); rc != nil {
			slog.Warn("halt plugin panicked", "plugin", p.Name(), "recovered", rc)
			reason = nil
		}
	}()
	return p.Check(rec, meta)
}

func (s *runState) reasonCopy() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == nil {
		return nil
	}
	out := make(map[string]any, len(s.reason))
	for k, v := range s.reason {
		out[k] = v
	}
	return out
}

// Run executes the cycle against batch: build the backlog (honoring the
// checkpoint and any already-observed halt signal), dispatch rows
// sequentially or across a worker pool, evaluate halt conditions as
// successes land, aggregate, assemble metadata, and hand the payload to
// the artifact pipeline.
func (r *Runner) Run(ctx context.Context, batch Batch) (*Payload, error) {
	for _, p := range r.haltPlugins {
		p.Reset()
	}

	activeSecurityLevel := security.Resolve(
		security.Normalize(r.cfg.SecurityLevel),
		security.Normalize(stringAttr(batch.Attributes, "security_level")),
	)

	state := &runState{haltPlugins: r.haltPlugins, checkpoint: r.checkpoint}

	backlog := r.buildBacklog(batch, state)

	if shouldRunParallel(r.cfg.Concurrency, len(backlog)) {
		r.runParallel(ctx, backlog, state, activeSecurityLevel)
	} else {
		r.runSequential(ctx, backlog, state, activeSecurityLevel)
	}

	payload := r.buildPayload(state, string(activeSecurityLevel))

	if err := r.pipeline.Run(ctx, payload.toMap(), payload.Metadata); err != nil {
		return payload, err
	}
	return payload, nil
}

func (r *Runner) buildBacklog(batch Batch, state *runState) []rowTask {
	var backlog []rowTask
	for idx, row := range batch.Rows {
		rc, idVal := types.NewRowContext(row, r.cfg.PromptFields, r.cfg.Checkpoint.Field)
		rowID := stringifyID(idVal)
		if r.checkpoint.Seen(rowID) {
			continue
		}
		if state.isStopped() {
			break
		}
		backlog = append(backlog, rowTask{OriginalIndex: idx, Row: rc, RowID: rowID})
	}
	return backlog
}

// shouldRunParallel implements the C3 scheduling decision: parallel
// dispatch only kicks in when concurrency is enabled, more than one
// worker is configured, and the backlog is at least as large as the
// configured threshold.
func shouldRunParallel(cfg config.ConcurrencyConfig, backlogSize int) bool {
	if !cfg.Enabled || cfg.MaxWorkers <= 1 {
		return false
	}
	threshold := cfg.BacklogThreshold
	if threshold <= 0 {
		threshold = 50
	}
	return backlogSize >= threshold
}

func stringAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	v, _ := attrs[key].(string)
	return v
}

func stringifyID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (r *Runner) runSequential(ctx context.Context, backlog []rowTask, state *runState, activeSecurityLevel security.Level) {
	for _, task := range backlog {
		if state.isStopped() {
			break
		}
		rec, fail := r.processRow(ctx, task, string(activeSecurityLevel))
		if rec != nil {
			state.acceptSuccess(task.OriginalIndex, *rec, task.RowID)
		}
		if fail != nil {
			state.acceptFailure(*fail)
		}
	}
}

func (r *Runner) runParallel(ctx context.Context, backlog []rowTask, state *runState, activeSecurityLevel security.Level) {
	maxWorkers := r.cfg.Concurrency.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	pauseThreshold := r.cfg.Concurrency.UtilizationPause
	if pauseThreshold <= 0 {
		pauseThreshold = 0.8
	}
	pauseInterval := time.Duration(r.cfg.Concurrency.PauseIntervalSecs * float64(time.Second))
	if pauseInterval <= 0 {
		pauseInterval = 500 * time.Millisecond
	}

	tasks := make(chan rowTask)
	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if state.isStopped() {
					continue
				}
				rec, fail := r.processRow(ctx, task, string(activeSecurityLevel))
				if rec != nil {
					state.acceptSuccess(task.OriginalIndex, *rec, task.RowID)
				}
				if fail != nil {
					state.acceptFailure(*fail)
				}
			}
		}()
	}

dispatchLoop:
	for _, task := range backlog {
		if r.rateLimiter != nil {
			for r.rateLimiter.Utilization() >= pauseThreshold {
				select {
				case <-ctx.Done():
					break dispatchLoop
				case <-time.After(pauseInterval):
				}
			}
		}
		if state.isStopped() {
			break
		}
		select {
		case tasks <- task:
		case <-ctx.Done():
			break dispatchLoop
		}
	}
	close(tasks)
	wg.Wait()
}

func (r *Runner) buildPayload(state *runState, securityLevel string) *Payload {
	sort.Slice(state.results, func(i, j int) bool { return state.results[i].idx < state.results[j].idx })
	results := make([]types.Record, len(state.results))
	for i, ir := range state.results {
		results[i] = ir.rec
	}

	payload := &Payload{Results: results, RunID: uuid.New().String()}
	if len(state.failures) > 0 {
		payload.Failures = state.failures
	}

	aggregates := make(map[string]any)
	for _, agg := range r.aggPlugins {
		derived, err := agg.Aggregate(results)
		if err != nil {
			slog.Warn("aggregation plugin failed", "plugin", agg.Name(), "error", err)
			continue
		}
		if len(derived) > 0 {
			aggregates[agg.Name()] = derived
		}
	}
	if len(aggregates) > 0 {
		payload.Aggregates = aggregates
	}

	metadata := map[string]any{"rows": len(results), "row_count": len(results), "run_id": payload.RunID}
	if summary := buildRetrySummary(results, state.failures); summary != nil {
		metadata["retry_summary"] = summary
	}
	if len(aggregates) > 0 {
		metadata["aggregates"] = aggregates
	}
	if r.costTracker != nil {
		if costSummary := r.costTracker.Summary(); len(costSummary) > 0 {
			payload.CostSummary = costSummary
			metadata["cost_summary"] = costSummary
		}
	}
	if len(state.failures) > 0 {
		metadata["failures"] = state.failures
	}
	if securityLevel != "" {
		metadata["security_level"] = securityLevel
	}
	if reason := state.reasonCopy(); reason != nil {
		payload.EarlyStop = reason
		metadata["early_stop"] = reason
	}

	payload.Metadata = metadata
	return payload
}

// buildRetrySummary mirrors the reference aggregator exactly: a success
// missing its retry info defaults to 1 attempt (0 retries); a failure
// missing its retry info defaults to 0 attempts (also 0 retries). The
// asymmetry is intentional, not a bug — see DESIGN.md.
func buildRetrySummary(results []types.Record, failures []types.Failure) map[string]any {
	present := false
	totalRetries := 0

	for _, rec := range results {
		attempts := 1
		if rec.Retry != nil {
			present = true
			attempts = rec.Retry.Attempts
		}
		totalRetries += maxInt(attempts-1, 0)
	}
	for _, f := range failures {
		attempts := 0
		if f.Retry != nil {
			present = true
			attempts = f.Retry.Attempts
		}
		totalRetries += maxInt(attempts-1, 0)
	}

	if !present {
		return nil
	}
	return map[string]any{
		"total_requests": len(results) + len(failures),
		"total_retries":  totalRetries,
		"exhausted":      len(failures),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
