// Package spool turns drained event batches into immutable JSON files in a
// well-known directory, ready for an external uploader to pick up.
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vincentbai/activity-agent/internal/models"
)

// fileNameLayout encodes the flush-window start so files sort
// chronologically by name.
const fileNameLayout = "20060102T150405.000000Z"

// ErrEmptyBatch is returned when a caller asks to write a batch with no
// records; empty flush windows must not produce files.
var ErrEmptyBatch = errors.New("spool: empty batch")

// Writer serialises batches to JSON array files using a temp-file-then-rename
// pattern, so a crash mid-write never leaves a truncated file at the final
// path.
type Writer struct {
	dir string
}

// NewWriter ensures the spool directory exists and is writable. An
// unwritable directory is a fatal startup condition for the agent.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("spool: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("spool directory not writable: %w", err)
	}
	probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean probe file: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the spool directory.
func (w *Writer) Dir() string { return w.dir }

// FileName returns the output file name for a flush window starting at the
// given instant.
func FileName(windowStart time.Time) string {
	return "events_" + windowStart.UTC().Format(fileNameLayout) + ".json"
}

// Write serialises the batch, preserving drain order exactly, and publishes
// it at the final path in one rename. Returns the final path and the number
// of bytes written.
func (w *Writer) Write(windowStart time.Time, batch []models.Record) (string, int64, error) {
	if len(batch) == 0 {
		return "", 0, ErrEmptyBatch
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("serialise batch: %w", err)
	}
	data = append(data, '\n')

	finalPath := filepath.Join(w.dir, FileName(windowStart))

	tmp, err := os.CreateTemp(w.dir, ".events-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write batch: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("sync batch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("publish batch: %w", err)
	}
	return finalPath, int64(len(data)), nil
}

// Read loads a spool file back into records, used by tests and offline
// tooling.
func Read(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch []models.Record
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode spool file %s: %w", filepath.Base(path), err)
	}
	return batch, nil
}
