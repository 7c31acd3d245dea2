package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tarsy-labs/dmp/pkg/types"
	"gopkg.in/yaml.v3"
)

// maskedSecretValue replaces data/stringData field values in a masked
// Kubernetes Secret resource echoed back in an LLM response.
const maskedSecretValue = "[MASKED_SECRET_DATA]"

var (
	yamlSecretKind = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretKind = regexp.MustCompile(`"kind"\s*:\s*"Secret"`)
)

// secretPattern is a pre-compiled regex sweep applied to every response's
// content, alongside the structural Kubernetes Secret masking below.
type secretPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinSecretPatterns covers common embedded-credential shapes a row's
// LLM response might echo back verbatim (e.g. a response that quotes the
// input data it was asked to review): a general regex sweep first, then a
// structural pass over any Kubernetes Secret manifest the response quotes.
var builtinSecretPatterns = []secretPattern{
	{name: "aws_access_key", regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), replacement: "[MASKED_AWS_KEY]"},
	{name: "bearer_token", regex: regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{10,}`), replacement: "[MASKED_BEARER_TOKEN]"},
	{name: "private_key_block", regex: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), replacement: "[MASKED_PRIVATE_KEY]"},
}

// Redactor is an AfterResponseMiddleware that masks secret-shaped content
// out of every LLM response before it reaches a Record (and, downstream, a
// sink or artifact). Masking is fail-closed for the structural pass: a
// parse error leaves content verbatim rather than guessing, since the
// regex sweep already ran and there is nothing further to hide badly.
type Redactor struct {
	patterns []secretPattern
}

// NewRedactor builds a Redactor middleware. Takes no options; the pattern
// set is fixed.
func NewRedactor(map[string]any) (*Redactor, error) {
	return &Redactor{patterns: builtinSecretPatterns}, nil
}

func (r *Redactor) Name() string { return "redact" }

func (r *Redactor) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	return req, nil
}

func (r *Redactor) AfterResponse(_ context.Context, _ *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	content := resp.Content
	for _, p := range r.patterns {
		content = p.regex.ReplaceAllString(content, p.replacement)
	}
	if looksLikeKubernetesSecret(content) {
		content = maskKubernetesSecret(content)
	}
	if content != resp.Content {
		slog.Debug("redacted secret-shaped content from llm response")
		resp.Content = content
	}
	return resp, nil
}

// looksLikeKubernetesSecret is a lightweight pre-check so the structural
// pass below only runs against content that plausibly contains a
// Kubernetes Secret manifest.
func looksLikeKubernetesSecret(content string) bool {
	if !strings.Contains(content, "Secret") {
		return false
	}
	return yamlSecretKind.MatchString(content) || jsonSecretKind.MatchString(content)
}

// maskKubernetesSecret detects JSON vs YAML and masks data/stringData
// fields in any Secret (or SecretList/List-of-Secrets) resource the
// content contains, leaving ConfigMaps and other kinds untouched. Returns
// the original content on parse/processing errors (defensive) — a
// response that merely mentions the word "Secret" without a parseable
// manifest is left alone.
func maskKubernetesSecret(content string) string {
	trimmed := strings.TrimSpace(content)

	// Try JSON first when input looks like JSON, so the YAML parser never
	// consumes JSON and re-serializes it as YAML.
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := maskJSONSecret(content); masked != content {
			return masked
		}
	}

	if masked := maskYAMLSecret(content); masked != content {
		return masked
	}

	return content
}

func maskYAMLSecret(content string) string {
	decoder := yaml.NewDecoder(strings.NewReader(content))
	var documents []map[string]any
	anySecret := false

	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return content
		}
		if doc == nil {
			continue
		}

		if isKubernetesSecret(doc) {
			maskSecretFields(doc)
			maskAnnotationSecrets(doc)
			anySecret = true
		} else if isKubernetesList(doc) {
			if maskListItems(doc) {
				anySecret = true
			}
		}

		documents = append(documents, doc)
	}

	if !anySecret || len(documents) == 0 {
		return content
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return content
		}
	}
	if err := encoder.Close(); err != nil {
		return content
	}

	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(content, "\n") {
		result += "\n"
	}
	return result
}

func maskJSONSecret(content string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return content
	}

	anyMasked := false
	if isKubernetesSecret(obj) {
		maskSecretFields(obj)
		maskAnnotationSecrets(obj)
		anyMasked = true
	} else if isKubernetesList(obj) {
		if maskListItems(obj) {
			anyMasked = true
		}
	}

	if !anyMasked {
		return content
	}

	result, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return content
	}

	output := string(result)
	if strings.HasSuffix(content, "\n") {
		output += "\n"
	}
	return output
}

// maskListItems masks Secret items within a Kubernetes List (YAML- or
// JSON-decoded alike, since both land in map[string]any/[]any). Returns
// true if any items were masked.
func maskListItems(doc map[string]any) bool {
	items, ok := doc["items"]
	if !ok {
		return false
	}
	itemList, ok := items.([]any)
	if !ok {
		return false
	}

	anyMasked := false
	for _, item := range itemList {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if isKubernetesSecret(itemMap) {
			maskSecretFields(itemMap)
			maskAnnotationSecrets(itemMap)
			anyMasked = true
		}
	}
	return anyMasked
}

func isKubernetesSecret(resource map[string]any) bool {
	kind, ok := resource["kind"].(string)
	if !ok {
		return false
	}
	return kind == "Secret" || kind == "SecretList"
}

func isKubernetesList(resource map[string]any) bool {
	kind, ok := resource["kind"].(string)
	if !ok {
		return false
	}
	return kind == "List" || strings.HasSuffix(kind, "List")
}

// maskSecretFields replaces values in "data" and "stringData" fields with
// maskedSecretValue.
func maskSecretFields(resource map[string]any) {
	if kind, _ := resource["kind"].(string); kind == "SecretList" {
		if items, ok := resource["items"]; ok {
			if itemList, ok := items.([]any); ok {
				for _, item := range itemList {
					if itemMap, ok := item.(map[string]any); ok {
						maskSecretDataMaps(itemMap)
					}
				}
			}
		}
		return
	}
	maskSecretDataMaps(resource)
}

func maskSecretDataMaps(resource map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		fieldVal, ok := resource[field]
		if !ok {
			continue
		}
		dataMap, ok := fieldVal.(map[string]any)
		if !ok {
			continue
		}
		for key := range dataMap {
			dataMap[key] = maskedSecretValue
		}
	}
}

// maskAnnotationSecrets checks annotations for embedded JSON containing
// Secret data — e.g. kubectl.kubernetes.io/last-applied-configuration
// often quotes the full Secret resource.
func maskAnnotationSecrets(resource map[string]any) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}

	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok || !strings.Contains(strVal, "Secret") {
			continue
		}
		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		if isKubernetesSecret(embedded) {
			maskSecretFields(embedded)
			masked, err := json.Marshal(embedded)
			if err != nil {
				continue
			}
			annotations[key] = string(masked)
		}
	}
}
