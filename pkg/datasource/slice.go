// Package datasource implements concrete runner.DataSource types: an
// in-memory slice wrapper for tests and seed scenarios, and a CSV file
// reader for real batch input.
package datasource

import (
	"context"

	"github.com/tarsy-labs/dmp/pkg/runner"
)

// Slice wraps an in-memory set of rows, optionally tagged with a
// security level attribute, exactly as a DataSource's Batch requires.
type Slice struct {
	rows          []map[string]any
	securityLevel string
}

// NewSlice builds a Slice DataSource over rows. securityLevel, when
// non-empty, is surfaced as the batch attribute the core consults to
// resolve the cycle's effective security level.
func NewSlice(rows []map[string]any, securityLevel string) *Slice {
	return &Slice{rows: rows, securityLevel: securityLevel}
}

// NewSliceFromOptions builds a Slice DataSource from decoded registry
// options: rows ([]map[string]any, required) and security_level
// (string, optional).
func NewSliceFromOptions(options map[string]any) (*Slice, error) {
	raw, _ := options["rows"].([]any)
	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	level, _ := options["security_level"].(string)
	return NewSlice(rows, level), nil
}

func (s *Slice) Load(context.Context) (runner.Batch, error) {
	batch := runner.Batch{Rows: s.rows}
	if s.securityLevel != "" {
		batch.Attributes = map[string]any{"security_level": s.securityLevel}
	}
	return batch, nil
}
