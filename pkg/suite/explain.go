package suite

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/tarsy-labs/dmp/pkg/llm"
)

const explainTemplateSource = `You previously ran a data-processing cycle named {{.CycleName}}.

Aggregate results:
{{range $k, $v := .Aggregates}}- {{$k}}: {{$v}}
{{end}}
Sample records ({{len .Records}} of {{.TotalRecords}} shown):
{{range .Records}}- {{.}}
{{end}}
A researcher is asking a follow-up question about this run:
{{.Query}}

Answer using only the information above.
`

var explainTemplate = template.Must(template.New("explain").Parse(explainTemplateSource))

// explainSampleSize caps how many records from a finished cycle are
// embedded in the follow-up prompt, keeping it bounded regardless of the
// original run's size.
const explainSampleSize = 10

// Explain answers a free-form follow-up question against a previously-run
// cycle's stored payload without re-executing it: it renders a small
// text/template prompt combining the payload's aggregates and a bounded
// sample of its records with the caller's query, then issues it through
// the same LLM client that cycle used. Callers must run the cycle (via
// RunStandard or RunExperimental) before calling Explain.
func (o *Orchestrator) Explain(ctx context.Context, cycleName, query string) (string, error) {
	payload, ok := o.lastPayloads[cycleName]
	if !ok {
		return "", fmt.Errorf("no stored result for cycle %q", cycleName)
	}
	bc, ok := o.lastCycles[cycleName]
	if !ok || bc.llmClient == nil {
		return "", fmt.Errorf("no llm client available to explain cycle %q", cycleName)
	}

	sample := payload.Results
	if len(sample) > explainSampleSize {
		sample = sample[:explainSampleSize]
	}

	var buf bytes.Buffer
	err := explainTemplate.Execute(&buf, map[string]any{
		"CycleName":    cycleName,
		"Aggregates":   payload.Aggregates,
		"Records":      sample,
		"TotalRecords": len(payload.Results),
		"Query":        query,
	})
	if err != nil {
		return "", fmt.Errorf("rendering explain prompt: %w", err)
	}

	executor := llm.NewExecutor(bc.llmClient, nil, llm.RetryConfig{MaxAttempts: 1}, nil, nil)
	resp, err := executor.Execute(
		ctx,
		buf.String(),
		map[string]any{"cycle": cycleName, "purpose": "explain"},
		"You are explaining a finished data-processing run to a researcher.",
	)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
