package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// GlobalDatabase holds the single cell-id hint shared across all bots.
// Updates race across bots and are last-writer-wins.
type GlobalDatabase struct {
	mu   sync.Mutex
	path string

	CellID uint32 `json:"cellId"`
}

// OpenGlobalDatabase loads path if present, otherwise returns a fresh
// zero-value database bound to path.
func OpenGlobalDatabase(path string) (*GlobalDatabase, error) {
	db := &GlobalDatabase{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read global database %s: %w", path, err)
	}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("decode global database %s: %w", path, err)
	}
	db.path = path
	return db, nil
}

// SetCellID persists a new cell-id if non-zero, matching the Bot state
// machine's "persist cell-id if non-zero" step on successful login.
func (db *GlobalDatabase) SetCellID(cellID uint32) error {
	if cellID == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.CellID = cellID

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode global database: %w", err)
	}

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".globaldb-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp global state: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp global state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp global state: %w", err)
	}
	return os.Rename(tmpPath, db.path)
}

// Get returns the currently held cell-id.
func (db *GlobalDatabase) Get() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.CellID
}
