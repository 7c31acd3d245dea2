// Package llm implements the LLM executor: a middleware chain wrapped
// around a pluggable client, with retry, rate limiting, and cost
// accounting applied uniformly to every call a cycle makes.
package llm

import (
	"context"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Client is the pluggable boundary to an actual LLM provider. Concrete wire
// protocols are out of scope for this module; callers supply their own
// implementation (or the stub in cmd/dmpctl for local testing).
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, metadata map[string]any) (types.LLMResponse, error)
}
