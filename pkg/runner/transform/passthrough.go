// Package transform implements concrete TransformPlugin types for the C3
// cycle runner: deriving additional row metrics from an LLM response
// beyond whatever the client itself reported.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Passthrough copies a fixed set of response fields straight into the
// row's metrics, keyed by the field name. Supports "content" (the raw
// response text) and any key already present in the response's own
// Metrics map.
type Passthrough struct {
	fields []string
}

// NewPassthrough builds a Passthrough from decoded options: fields
// ([]string, required, non-empty).
func NewPassthrough(options map[string]any) (*Passthrough, error) {
	raw, _ := options["fields"].([]any)
	if len(raw) == 0 {
		return nil, fmt.Errorf("passthrough transform requires a non-empty fields list")
	}
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok && s != "" {
			fields = append(fields, s)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("passthrough transform requires a non-empty fields list")
	}
	return &Passthrough{fields: fields}, nil
}

func (p *Passthrough) Name() string { return "passthrough" }

func (p *Passthrough) Transform(_ types.RowContext, responses map[string]types.LLMResponse) (map[string]any, error) {
	resp, ok := responses["default"]
	if !ok {
		for _, r := range responses {
			resp = r
			break
		}
	}

	out := make(map[string]any, len(p.fields))
	for _, field := range p.fields {
		if field == "content" {
			out[field] = resp.Content
			continue
		}
		if v, ok := resp.Metrics[field]; ok {
			out[field] = v
		}
	}
	return out, nil
}

// JSONExtract parses a response's Content as JSON and flattens a
// configured set of dotted paths into the row's metrics.
type JSONExtract struct {
	paths map[string]string // metric name -> dotted path into the parsed document
}

// NewJSONExtract builds a JSONExtract from decoded options: paths
// (map[string]string, required, non-empty — metric name -> dotted path).
func NewJSONExtract(options map[string]any) (*JSONExtract, error) {
	raw, _ := options["paths"].(map[string]any)
	if len(raw) == 0 {
		return nil, fmt.Errorf("json_extract transform requires a non-empty paths map")
	}
	paths := make(map[string]string, len(raw))
	for name, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			paths[name] = s
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("json_extract transform requires a non-empty paths map")
	}
	return &JSONExtract{paths: paths}, nil
}

func (j *JSONExtract) Name() string { return "json_extract" }

func (j *JSONExtract) Transform(_ types.RowContext, responses map[string]types.LLMResponse) (map[string]any, error) {
	resp, ok := responses["default"]
	if !ok {
		for _, r := range responses {
			resp = r
			break
		}
	}

	var doc any
	if err := json.Unmarshal([]byte(resp.Content), &doc); err != nil {
		return nil, fmt.Errorf("json_extract: response content is not valid JSON: %w", err)
	}

	out := make(map[string]any, len(j.paths))
	for name, path := range j.paths {
		if v, ok := walk(doc, path); ok {
			out[name] = v
		}
	}
	return out, nil
}

func walk(doc any, path string) (any, bool) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
