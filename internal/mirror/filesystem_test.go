package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}
	return path
}

func TestFileSystemMirror_Sync(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	m, err := NewFileSystemMirror(filepath.Join(t.TempDir(), "mirror"))
	if err != nil {
		t.Fatalf("NewFileSystemMirror() error = %v", err)
	}
	artifact := writeArtifact(t, src, "app_20240115_103000_full.tar.gz", "archive bytes")

	t.Run("copies new artifact", func(t *testing.T) {
		copied, err := m.Sync(ctx, "projects/app", artifact)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if !copied {
			t.Error("Sync() copied = false, want true")
		}
		data, err := os.ReadFile(filepath.Join(m.Root(), "projects", "app", filepath.Base(artifact)))
		if err != nil {
			t.Fatalf("mirror copy missing: %v", err)
		}
		if string(data) != "archive bytes" {
			t.Errorf("mirror content = %q", data)
		}
	})

	t.Run("skips identical copy", func(t *testing.T) {
		copied, err := m.Sync(ctx, "projects/app", artifact)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if copied {
			t.Error("Sync() copied = true for identical file")
		}
	})

	t.Run("recopies when content differs at same size", func(t *testing.T) {
		writeArtifact(t, src, filepath.Base(artifact), "ARCHIVE BYTES")
		copied, err := m.Sync(ctx, "projects/app", artifact)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if !copied {
			t.Error("Sync() should recopy changed content")
		}
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(m.Root(), "projects", "app"))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 entry in mirror dir, got %d", len(entries))
		}
	})
}

func TestFileSystemMirror_Delete(t *testing.T) {
	ctx := context.Background()
	m, err := NewFileSystemMirror(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	artifact := writeArtifact(t, t.TempDir(), "db_20240115_103000.sql.gz", "dump")
	if _, err := m.Sync(ctx, "databases/db", artifact); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, "databases/db", filepath.Base(artifact)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "databases", "db", filepath.Base(artifact))); !os.IsNotExist(err) {
		t.Error("mirror copy still present after Delete")
	}
	if err := m.Delete(ctx, "databases/db", "missing.sql.gz"); err != nil {
		t.Errorf("Delete() of missing object error = %v", err)
	}
}

func TestFileSystemMirror_ValidateSetup(t *testing.T) {
	m, err := NewFileSystemMirror(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	if err := os.RemoveAll(m.Root()); err != nil {
		t.Fatal(err)
	}
	if err := m.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() should fail for missing root")
	}
}
