package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tarsy-labs/dmp/pkg/runner"
)

// CSV loads rows from a delimited file, one row per record keyed by the
// header line, declaring a configurable security_level batch attribute.
type CSV struct {
	path          string
	securityLevel string
}

// NewCSV builds a CSV DataSource reading from path.
func NewCSV(path, securityLevel string) *CSV {
	return &CSV{path: path, securityLevel: securityLevel}
}

// NewCSVFromOptions builds a CSV DataSource from decoded registry
// options: path (string, required) and security_level (string, optional).
func NewCSVFromOptions(options map[string]any) (*CSV, error) {
	path, _ := options["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("csv datasource requires a non-empty path")
	}
	level, _ := options["security_level"].(string)
	return NewCSV(path, level), nil
}

func (c *CSV) Load(ctx context.Context) (runner.Batch, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return runner.Batch{}, fmt.Errorf("opening csv datasource %s: %w", c.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return runner.Batch{}, fmt.Errorf("reading csv header from %s: %w", c.path, err)
	}

	var rows []map[string]any
	for {
		select {
		case <-ctx.Done():
			return runner.Batch{}, ctx.Err()
		default:
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return runner.Batch{}, fmt.Errorf("reading csv row from %s: %w", c.path, err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}

	batch := runner.Batch{Rows: rows}
	if c.securityLevel != "" {
		batch.Attributes = map[string]any{"security_level": c.securityLevel}
	}
	return batch, nil
}
