package main

import (
	"context"
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// stubClient is a deterministic, offline llm.Client used by the CLI's
// default wiring so the engine is exercisable end to end without a real
// provider credential. It echoes the rendered prompt back as content and
// reports a constant token count, just enough for cost/rate-limiter
// middleware and aggregation plugins to have something to chew on.
type stubClient struct{}

func newStubClient(map[string]any) (*stubClient, error) {
	return &stubClient{}, nil
}

func (c *stubClient) Generate(_ context.Context, systemPrompt, userPrompt string, _ map[string]any) (types.LLMResponse, error) {
	return types.LLMResponse{
		Content: fmt.Sprintf("stub response to: %s", userPrompt),
		Metrics: map[string]float64{"score": 1.0},
		Raw: map[string]any{
			"usage": map[string]any{
				"prompt_tokens":     len(systemPrompt) + len(userPrompt),
				"completion_tokens": 8,
			},
		},
	}, nil
}
