package sink

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/artifact"
)

// Zip bundles every file/* artifact it consumes into a single zip archive
// at path. It declares consumes([]any{"file/*"} equivalent via the "file/*"
// prefix match performed by the artifact package) with mode "all", and
// produces a single file/zip artifact once Write has run.
type Zip struct {
	path string
	name string

	mu      sync.Mutex
	inputs  []artifact.Artifact
	written bool
}

// NewZip constructs a Zip sink writing to path and consuming every file/*
// artifact available at execution time.
func NewZip(path, name string) *Zip {
	if name == "" {
		name = "bundle"
	}
	return &Zip{path: path, name: name}
}

func (z *Zip) Consumes() []any {
	return []any{map[string]any{"token": "file/*", "mode": artifact.ModeAll}}
}

func (z *Zip) PrepareArtifacts(consumed map[string][]artifact.Artifact) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.inputs = consumed["file/*"]
	return nil
}

func (z *Zip) Write(_ context.Context, _ map[string]any, _ map[string]any) error {
	z.mu.Lock()
	inputs := z.inputs
	z.mu.Unlock()

	if dir := filepath.Dir(z.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.Create(z.path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, in := range inputs {
		if in.Path == nil {
			continue
		}
		if err := addFileToZip(w, *in.Path); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	z.mu.Lock()
	z.written = true
	z.mu.Unlock()
	return nil
}

func addFileToZip(w *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	entry, err := w.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, src); err != nil {
		return fmt.Errorf("copying %s into zip: %w", path, err)
	}
	return nil
}

func (z *Zip) Produces() []artifact.Descriptor {
	return []artifact.Descriptor{{Name: z.name, Type: "file/zip"}}
}

func (z *Zip) CollectArtifacts() map[string]artifact.Artifact {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.written {
		return nil
	}
	path := z.path
	return map[string]artifact.Artifact{
		z.name: {Path: &path},
	}
}
