// Package sink provides concrete artifact.Sink implementations: an
// in-process memory sink (tests, dmpctl dry runs), a file sink that writes
// JSON payloads to disk, and a zip sink that bundles file/* artifacts.
package sink

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/artifact"
)

// Memory accumulates every payload it's given in process memory and
// republishes the most recent one as a single data/json artifact named
// "record". It is the default sink used by tests and dry-run suites.
type Memory struct {
	mu      sync.Mutex
	records []map[string]any
}

// NewMemory constructs an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, payload map[string]any, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	m.records = append(m.records, cp)
	return nil
}

// Records returns every payload written so far, in write order.
func (m *Memory) Records() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Memory) Produces() []artifact.Descriptor {
	return []artifact.Descriptor{{Name: "record", Type: "data/json"}}
}

func (m *Memory) CollectArtifacts() map[string]artifact.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil
	}
	encoded, _ := json.Marshal(m.records[len(m.records)-1])
	return map[string]artifact.Artifact{
		"record": {Payload: m.records[len(m.records)-1], Metadata: map[string]any{"encoded": string(encoded)}},
	}
}
