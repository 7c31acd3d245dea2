package runner

import (
	"context"
	"errors"
	"time"

	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/prompt"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// processRow runs one row through system/user (or per-criteria) prompt
// rendering, the LLM executor, and the transform chain. Exactly one of
// the two return values is non-nil.
func (r *Runner) processRow(ctx context.Context, task rowTask, activeSecurityLevel string) (*types.Record, *types.Failure) {
	systemPrompt, err := r.systemTmpl.Render(mergeVars(r.cfg.PromptDefaults, task.Row.Map()))
	if err != nil {
		return nil, promptFailure(task.Row, err)
	}

	var record types.Record
	record.Row = task.Row

	if len(r.cfg.Criteria) > 0 {
		responses := make(map[string]types.LLMResponse, len(r.cfg.Criteria))
		firstName := r.cfg.Criteria[0].Name
		for _, crit := range r.cfg.Criteria {
			tmpl := r.criteriaTmpls[crit.Name]
			vars := mergeVars(mergeVars(r.cfg.PromptDefaults, crit.Defaults), task.Row.Map())
			vars["criteria"] = crit.Name
			userPrompt, err := tmpl.Render(vars)
			if err != nil {
				return nil, promptFailure(task.Row, err)
			}
			resp, err := r.llmExec.Execute(ctx, userPrompt, map[string]any{"row_id": task.RowID, "criteria": crit.Name}, systemPrompt)
			if err != nil {
				return nil, otherFailure(task.Row, err)
			}
			responses[crit.Name] = resp
		}
		record.Responses = responses
		record.Response = responses[firstName]
		record.Metrics = mergeMetrics(responses)
		record.Retry = record.Response.Retry
	} else {
		userPrompt, err := r.userTmpl.Render(mergeVars(r.cfg.PromptDefaults, task.Row.Map()))
		if err != nil {
			return nil, promptFailure(task.Row, err)
		}
		resp, err := r.llmExec.Execute(ctx, userPrompt, map[string]any{"row_id": task.RowID}, systemPrompt)
		if err != nil {
			return nil, otherFailure(task.Row, err)
		}
		record.Response = resp
		record.Metrics = metricsToAny(resp.Metrics)
		record.Retry = resp.Retry
	}

	responsesForTransform := record.Responses
	if responsesForTransform == nil {
		responsesForTransform = map[string]types.LLMResponse{"default": record.Response}
	}
	for _, tx := range r.txPlugins {
		derived, err := tx.Transform(task.Row, responsesForTransform)
		if err != nil {
			return nil, otherFailure(task.Row, err)
		}
		if len(derived) > 0 {
			if record.Metrics == nil {
				record.Metrics = make(map[string]any, len(derived))
			}
			for k, v := range derived {
				record.Metrics[k] = v
			}
		}
	}

	record.SecurityLevel = activeSecurityLevel
	return &record, nil
}

// promptFailure builds the Failure shape for template errors: row, error,
// error_type only — no timestamp, mirroring that these are configuration
// problems caught before any LLM call is attempted.
func promptFailure(row types.RowContext, err error) *types.Failure {
	errType := "PromptError"
	var validationErr *prompt.PromptValidationError
	var renderingErr *prompt.PromptRenderingError
	switch {
	case errors.As(err, &validationErr):
		errType = "PromptValidationError"
	case errors.As(err, &renderingErr):
		errType = "PromptRenderingError"
	}
	return &types.Failure{Row: row, Error: err.Error(), ErrorType: errType}
}

// otherFailure builds the Failure shape for every other kind of error
// (LLM call failure, transform plugin error): row, error, a timestamp,
// and retry bookkeeping if the error carries it.
func otherFailure(row types.RowContext, err error) *types.Failure {
	f := &types.Failure{Row: row, Error: err.Error(), ErrorType: errorTypeName(err), Timestamp: time.Now()}
	var exhausted *llm.RetryExhaustedError
	if errors.As(err, &exhausted) {
		f.Retry = &types.RetryInfo{
			Attempts:    len(exhausted.History),
			MaxAttempts: len(exhausted.History),
			History:     exhausted.History,
		}
	}
	return f
}

func errorTypeName(err error) string {
	var exhausted *llm.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return "RetryExhaustedError"
	}
	return "Error"
}

// mergeMetrics flattens each criterion's float metrics into one map, keyed
// "<criterion>.<metric>" to avoid collisions across criteria.
func mergeMetrics(responses map[string]types.LLMResponse) map[string]any {
	out := make(map[string]any)
	for name, resp := range responses {
		for k, v := range resp.Metrics {
			out[name+"."+k] = v
		}
	}
	return out
}

func metricsToAny(m map[string]float64) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
