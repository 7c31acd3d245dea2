// Package artifact implements the C5 artifact pipeline: sink bindings,
// dependency-ordered execution, and the clearance checks that gate data
// crossing between sinks of differing security levels.
package artifact

import (
	"context"
	"strings"

	"github.com/tarsy-labs/dmp/pkg/security"
)

// Descriptor is a static declaration of one artifact a sink may produce:
// either declared in config (artifact_config.produces) or returned
// dynamically by the sink's optional Produces() method.
type Descriptor struct {
	Name          string
	Type          string // "file/<subtype>" or "data/<subtype>"
	SchemaID      string
	Alias         string
	SecurityLevel string
	Persist       bool
}

// Artifact is a runtime instance registered into the ArtifactStore once a
// sink actually produces it.
type Artifact struct {
	ID            string
	Type          string
	Path          *string
	Payload       any
	Metadata      map[string]any
	SchemaID      string
	ProducedBy    string
	Persist       bool
	SecurityLevel security.Level
}

// Request is a parsed consume token: either "@alias" (single producer by
// name/alias) or a bare artifact type (possibly many producers), with a
// mode of "single" (first match) or "all" (every match).
type Request struct {
	Token string
	Mode  string // "single" | "all"
}

const (
	ModeSingle = "single"
	ModeAll    = "all"
)

// ParseRequest accepts a bare string (mode "single"), or a
// map{token|name, mode} already decoded from configuration, or an existing
// Request passed through unchanged.
func ParseRequest(entry any) (Request, error) {
	switch v := entry.(type) {
	case Request:
		return v, validateMode(v)
	case string:
		return Request{Token: v, Mode: ModeSingle}, nil
	case map[string]any:
		token, _ := v["token"].(string)
		if token == "" {
			token, _ = v["name"].(string)
		}
		mode, _ := v["mode"].(string)
		if mode == "" {
			mode = ModeSingle
		}
		req := Request{Token: token, Mode: mode}
		return req, validateMode(req)
	default:
		return Request{}, &TopologyError{Reason: "unrecognized consume request entry"}
	}
}

func validateMode(r Request) error {
	if r.Mode != ModeSingle && r.Mode != ModeAll {
		return &TopologyError{Reason: "invalid request mode: " + r.Mode}
	}
	return nil
}

// ValidateType checks the {file/*, data/*} prefix rule every descriptor
// type and consume-type token must satisfy. A wildcard token such as
// "file/*" is itself valid: it satisfies the prefix rule and is resolved
// by TypeMatches against every concrete registered type.
func ValidateType(t string) error {
	if strings.HasPrefix(t, "file/") || strings.HasPrefix(t, "data/") {
		return nil
	}
	return &TopologyError{Reason: "artifact type must be file/* or data/*: " + t}
}

// TypeMatches reports whether a concrete artifact type satisfies a
// consume-type token. A token ending in "/*" matches any concrete type
// sharing that prefix (e.g. "file/*" matches "file/json" and "file/csv");
// any other token must match exactly.
func TypeMatches(token, concreteType string) bool {
	if strings.HasSuffix(token, "/*") {
		return strings.HasPrefix(concreteType, token[:len(token)-1])
	}
	return token == concreteType
}

// SinkBinding ties a configured sink instance to its static and
// dynamically-discovered produces/consumes declarations.
type SinkBinding struct {
	ID            string
	Plugin        string
	Sink          Sink
	OriginalIndex int
	Produces      []Descriptor
	Consumes      []Request
	SecurityLevel security.Level
}

// Sink is the minimal contract every artifact consumer/producer
// implements. Capability interfaces below are probed for once per
// binding, via type assertion, at pipeline construction time.
type Sink interface {
	Write(ctx context.Context, payload map[string]any, metadata map[string]any) error
}

// Produces is implemented by sinks that declare additional artifact
// descriptors beyond their static config.
type Produces interface {
	Produces() []Descriptor
}

// Consumes is implemented by sinks that declare additional consume
// request tokens beyond their static config.
type Consumes interface {
	Consumes() []any
}

// PreparesArtifacts is implemented by sinks that want the resolved
// hand-off of consumed artifacts before Write is called.
type PreparesArtifacts interface {
	PrepareArtifacts(consumed map[string][]Artifact) error
}

// CollectsArtifacts is implemented by sinks that produce artifacts as a
// side effect of Write, returned here by descriptor name.
type CollectsArtifacts interface {
	CollectArtifacts() map[string]Artifact
}

// Finalizer is implemented by sinks that want a final callback with every
// artifact registered so far across the whole run (not just this
// binding's own).
type Finalizer interface {
	Finalize(all map[string]Artifact, metadata map[string]any) error
}
