package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cursorFile holds the last successfully ingested policy id.
const cursorFile = "last_ingested.txt"

// Cursor persists the incremental-ingestion watermark as a single
// integer in a state file. It is advanced after each policy completes,
// not transactionally with the vector writes, so a crash mid-batch can
// leave it behind the last attempted policy. Concurrent ingestion runs
// are not supported.
type Cursor struct {
	path string
}

// NewCursor creates a Cursor stored under dataDir.
func NewCursor(dataDir string) *Cursor {
	return &Cursor{path: filepath.Join(dataDir, cursorFile)}
}

// Load returns the persisted policy id, or 0 when no state file exists yet.
func (c *Cursor) Load() (int64, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor file: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cursor file %s: %w", c.path, err)
	}
	return id, nil
}

// Store overwrites the state file with the given policy id.
func (c *Cursor) Store(id int64) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cursor directory: %w", err)
	}
	if err := os.WriteFile(c.path, []byte(strconv.FormatInt(id, 10)), 0o644); err != nil {
		return fmt.Errorf("writing cursor file: %w", err)
	}
	return nil
}
