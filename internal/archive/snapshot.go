package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	hfs "hoard-go/internal/fs"
)

// Entry is the state of one regular file at the time of a backup.
type Entry struct {
	MTime int64  `json:"mtime"` // unix nanoseconds
	Size  int64  `json:"size"`
	Mode  uint32 `json:"mode"`
}

// SnapshotIndex maps slash-separated paths relative to the item root to
// their last archived state. It only ever holds regular files that passed the
// exclusion rules.
type SnapshotIndex map[string]Entry

// SnapshotPath returns the index location for an item inside its backup directory.
func SnapshotPath(dir, item string) string {
	return filepath.Join(dir, "."+item+"_snapshot.json")
}

// LoadSnapshot reads an index from path. A missing file returns os.ErrNotExist
// wrapped; a corrupt file returns a decode error. Callers treat both as "no baseline".
func LoadSnapshot(path string) (SnapshotIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot index: %w", err)
	}
	idx := SnapshotIndex{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding snapshot index: %w", err)
	}
	return idx, nil
}

// Save atomically replaces the index at path.
func (s SnapshotIndex) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot index: %w", err)
	}
	if _, err := hfs.WriteFileAtomic(path, bytes.NewReader(data), int64(len(data)), 0600); err != nil {
		return fmt.Errorf("writing snapshot index: %w", err)
	}
	return nil
}

// Unchanged reports whether rel is present with the same mtime and size.
func (s SnapshotIndex) Unchanged(rel string, e Entry) bool {
	old, ok := s[rel]
	return ok && old.MTime == e.MTime && old.Size == e.Size
}

// Paths returns the indexed paths in sorted order.
func (s SnapshotIndex) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
