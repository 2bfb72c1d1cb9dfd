package mirror

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryMirror(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMirror()
	artifact := writeArtifact(t, t.TempDir(), "repo_20240115_103000.bundle", "bundle")

	copied, err := m.Sync(ctx, "git/repo", artifact)
	if err != nil || !copied {
		t.Fatalf("Sync() = %v, %v; want true, nil", copied, err)
	}
	if copied, _ := m.Sync(ctx, "git/repo", artifact); copied {
		t.Error("second Sync() should be skipped")
	}
	if !m.Has("git/repo", "repo_20240115_103000.bundle") {
		t.Error("Has() = false after Sync")
	}
	if m.Transfers() != 1 {
		t.Errorf("Transfers() = %d, want 1", m.Transfers())
	}

	if err := m.Delete(ctx, "git/repo", "repo_20240115_103000.bundle"); err != nil {
		t.Fatal(err)
	}
	if len(m.Keys()) != 0 {
		t.Errorf("Keys() = %v after Delete", m.Keys())
	}

	m.FailSync = errors.New("offline")
	if _, err := m.Sync(ctx, "git/repo", artifact); err == nil {
		t.Error("Sync() should return FailSync")
	}
}
