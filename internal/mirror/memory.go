package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"hoard-go/internal/hoard"
)

// MemoryMirror is an in-memory implementation of the Mirror interface.
// It is useful for testing and is safe for concurrent use.
type MemoryMirror struct {
	mu      sync.RWMutex
	objects map[string][]byte // "<subdir>/<name>" -> content
	syncs   int
	// FailSync, when set, is returned by every Sync call.
	FailSync error
	// FailSuffix limits FailSync to files whose name ends with it.
	FailSuffix string
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{objects: make(map[string][]byte)}
}

func (m *MemoryMirror) Sync(ctx context.Context, subdir, localPath string) (bool, error) {
	if m.FailSync != nil && strings.HasSuffix(filepath.Base(localPath), m.FailSuffix) {
		return false, m.FailSync
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := path.Join(subdir, filepath.Base(localPath))
	if existing, ok := m.objects[key]; ok && string(existing) == string(data) {
		return false, nil
	}
	m.objects[key] = data
	m.syncs++
	return true, nil
}

func (m *MemoryMirror) Delete(ctx context.Context, subdir, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path.Join(subdir, name))
	return nil
}

// ValidateSetup always succeeds for the in-memory mirror.
func (m *MemoryMirror) ValidateSetup(ctx context.Context) error {
	return nil
}

// Has reports whether <subdir>/<name> is stored.
func (m *MemoryMirror) Has(subdir, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path.Join(subdir, name)]
	return ok
}

// Keys returns every stored key in sorted order.
func (m *MemoryMirror) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Transfers returns how many Sync calls copied data.
func (m *MemoryMirror) Transfers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncs
}

// Compile-time check that MemoryMirror implements hoard.Mirror interface
var _ hoard.Mirror = (*MemoryMirror)(nil)
