package runner

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/config"
)

// Checkpoint tracks which row ids have already been processed across
// restarts of the same cycle. The backing file is plain text, one id per
// line; it is created (with any missing parent directories) on first
// write and only ever appended to.
type Checkpoint struct {
	enabled bool
	path    string
	field   string

	mu   sync.Mutex
	seen map[string]bool
}

// NewCheckpoint loads any existing checkpoint file. A missing file is not
// an error — it simply means nothing has been processed yet.
func NewCheckpoint(cfg config.CheckpointConfig) (*Checkpoint, error) {
	c := &Checkpoint{enabled: cfg.Enabled, path: cfg.Path, field: cfg.Field, seen: make(map[string]bool)}
	if !c.enabled {
		return c, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.seen[line] = true
	}
	return c, nil
}

// Field names the row key used as the checkpoint identifier.
func (c *Checkpoint) Field() string {
	return c.field
}

// Seen reports whether id has already been marked processed. Always false
// when the checkpoint is disabled or id is empty.
func (c *Checkpoint) Seen(id string) bool {
	if !c.enabled || id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id]
}

// Mark records id as processed, appending it to the backing file. A no-op
// if id was already marked, the checkpoint is disabled, or id is empty.
func (c *Checkpoint) Mark(id string) error {
	if !c.enabled || id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[id] {
		return nil
	}

	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(id + "\n"); err != nil {
		return err
	}
	c.seen[id] = true
	return nil
}
