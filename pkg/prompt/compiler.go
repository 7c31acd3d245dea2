// Package prompt compiles cycle-scoped system/user/criteria templates and
// renders them against row context. Built on text/template, the same way
// it is used for prompt assembly elsewhere in the ecosystem.
//
// SECURITY: templates are expected to come from trusted configuration
// (cycle/pack YAML), never from raw per-row user input — Go templates can
// exhaust resources if crafted maliciously.
package prompt

import (
	"bytes"
	"regexp"
	"text/template"
)

// Compiler compiles raw template source into a CompiledTemplate.
type Compiler struct{}

// NewCompiler returns a ready-to-use Compiler. It carries no state: every
// compiled template is independent.
func NewCompiler() *Compiler { return &Compiler{} }

// CompiledTemplate is a parsed template plus the variables it requires
// that are not already covered by defaults.
type CompiledTemplate struct {
	name     string
	tmpl     *template.Template
	Required []string
}

var singleBrace = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// autoConvert rewrites {field} placeholders to {{.field}} unless the
// source already contains template action delimiters, in which case it is
// assumed to already be fully-formed engine syntax and is left untouched.
func autoConvert(source string) string {
	if bytes.Contains([]byte(source), []byte("{{")) {
		return source
	}
	return singleBrace.ReplaceAllString(source, "{{.$1}}")
}

// Compile parses source (after auto-brace-conversion) under name and
// discovers which of its referenced variables are not already satisfied by
// defaults. Returns a PromptValidationError if the template cannot be
// parsed.
func (c *Compiler) Compile(name, source string, defaults map[string]any) (*CompiledTemplate, error) {
	converted := autoConvert(source)
	tmpl, err := template.New(name).Option("missingkey=error").Parse(converted)
	if err != nil {
		return nil, &PromptValidationError{Template: name, Err: err}
	}

	refs := discoverFields(tmpl)
	var required []string
	for _, ref := range refs {
		if _, ok := defaults[ref]; !ok {
			required = append(required, ref)
		}
	}

	return &CompiledTemplate{name: name, tmpl: tmpl, Required: required}, nil
}

// Render executes the template against vars. Returns a PromptRenderingError
// naming the missing variables if execution fails due to an undefined
// field reference.
func (t *CompiledTemplate) Render(vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", &PromptRenderingError{Template: t.name, Missing: missingFrom(t.Required, vars), Err: err}
	}
	return buf.String(), nil
}

func missingFrom(required []string, vars map[string]any) []string {
	var out []string
	for _, r := range required {
		if _, ok := vars[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
