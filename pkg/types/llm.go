package types

import "time"

// LLMRequest is what C2 hands to C4: a compiled system/user prompt pair plus
// whatever bookkeeping metadata the caller wants echoed back to middleware.
type LLMRequest struct {
	SystemPrompt string
	UserPrompt   string
	Metadata     map[string]any
}

// LLMResponse is what a LLMClient returns for a single request.
type LLMResponse struct {
	Content string
	Metrics map[string]float64
	Raw     any
	Retry   *RetryInfo
}

// RetryInfo summarizes how many attempts a request took and the full
// per-attempt history, surfaced on both successful records (after retries)
// and failures (after exhaustion).
type RetryInfo struct {
	Attempts    int
	MaxAttempts int
	History     []RetryAttempt
}

// RetryAttempt records the outcome of a single attempt within a retry loop.
type RetryAttempt struct {
	Attempt   int
	Status    string // "success" | "error"
	Duration  time.Duration
	Error     string
	ErrorType string
	NextDelay time.Duration
}
