// Package types holds the data model shared by every dmp component: row
// context, LLM request/response shapes, retry bookkeeping, and the result
// records a cycle produces.
package types

import "fmt"

// RowContext is an immutable view over a single input row. Field order is
// preserved so templates and transform plugins see a deterministic
// iteration order regardless of the underlying map's natural order.
type RowContext struct {
	fields map[string]any
	order  []string
}

// NewRowContext builds a RowContext from a raw record. When fields is
// non-empty, only those keys are retained (in the order given); otherwise
// every key of record is kept, ordered by first appearance in order if
// order is provided, falling back to map iteration order. idField, when
// non-empty, names the key whose value is returned as the row identifier.
func NewRowContext(record map[string]any, fields []string, idField string) (RowContext, any) {
	rc := RowContext{fields: make(map[string]any)}
	if len(fields) > 0 {
		for _, f := range fields {
			if v, ok := record[f]; ok {
				rc.fields[f] = v
				rc.order = append(rc.order, f)
			}
		}
	} else {
		for k, v := range record {
			rc.fields[k] = v
			rc.order = append(rc.order, k)
		}
	}
	var id any
	if idField != "" {
		id = record[idField]
	}
	return rc, id
}

// Get returns the value stored under key and whether it was present.
func (r RowContext) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Keys returns the field names in declaration order.
func (r RowContext) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Map returns a shallow copy of the row as a plain map, safe for templates
// and JSON-style consumers to mutate without affecting the RowContext.
func (r RowContext) Map() map[string]any {
	out := make(map[string]any, len(r.fields))
	for _, k := range r.order {
		out[k] = r.fields[k]
	}
	return out
}

func (r RowContext) String() string {
	return fmt.Sprintf("RowContext(%d fields)", len(r.order))
}
