package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/artifact"
)

// File writes payload as JSON to a configured path on every Write call,
// then declares a single file/json artifact pointing at that path. It is
// a minimal member of the file/* artifact family; a production storage
// backend (blob, repo, Excel) is out of scope.
type File struct {
	path string
	name string

	mu      sync.Mutex
	written bool
}

// NewFile constructs a File sink that writes to path and registers its
// artifact under name (defaulting to "output" when empty).
func NewFile(path, name string) *File {
	if name == "" {
		name = "output"
	}
	return &File{path: path, name: name}
}

func (f *File) Write(_ context.Context, payload map[string]any, _ map[string]any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(f.path, encoded, 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	f.written = true
	f.mu.Unlock()
	return nil
}

func (f *File) Produces() []artifact.Descriptor {
	return []artifact.Descriptor{{Name: f.name, Type: "file/json"}}
}

func (f *File) CollectArtifacts() map[string]artifact.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.written {
		return nil
	}
	path := f.path
	return map[string]artifact.Artifact{
		f.name: {Path: &path},
	}
}
