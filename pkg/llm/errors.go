package llm

import (
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// RetryExhaustedError is returned once the executor's retry budget runs
// out. The row processor recovers History via errors.As to attach it to a
// Failure record, replacing the source's exception-sidechannel pattern of
// attaching retry bookkeeping as extra attributes on the raised exception.
type RetryExhaustedError struct {
	History []types.RetryAttempt
	Last    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("llm call failed after %d attempts: %v", len(e.History), e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }
