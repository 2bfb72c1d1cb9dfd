package hoard_test

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"hoard-go/internal/hoard"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
	"hoard-go/internal/testutil"
)

func TestRestore_ReplaysIncrementalChain(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	// First round: add, modify and delete.
	testutil.WriteTree(t, f.src, map[string]string{
		"src/new.py": "new = True\n",
		"main.go":    "package main\n\nfunc main() {}\n",
	})
	if err := os.Remove(filepath.Join(f.src, "docs/README.md")); err != nil {
		t.Fatal(err)
	}
	f.backup(t, hoard.BackupRequest{Incremental: true})

	// Second round: same-size change detected through mtime.
	testutil.WriteTree(t, f.src, map[string]string{"src/app.py": "print('HELLO')\n"})
	testutil.SetMTime(t, filepath.Join(f.src, "src/app.py"), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := os.Remove(filepath.Join(f.src, "src/util.py")); err != nil {
		t.Fatal(err)
	}
	last := f.backup(t, hoard.BackupRequest{Incremental: true})

	target := filepath.Join(t.TempDir(), "restored")
	res, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item:   "app",
		Backup: last.Record.BackupName,
		Target: target,
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(res.Chain) != 3 {
		t.Errorf("Chain = %v, want full plus two incrementals", res.Chain)
	}

	want := testutil.ReadTree(t, f.src)
	got := testutil.ReadTree(t, target)
	if !maps.Equal(got, want) {
		t.Errorf("restored tree = %v\nwant %v", got, want)
	}
}

func TestRestore_IntermediateIncremental(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})
	testutil.WriteTree(t, f.src, map[string]string{"src/new.py": "1\n"})
	mid := f.backup(t, hoard.BackupRequest{Incremental: true})
	snapshot := testutil.ReadTree(t, f.src)
	testutil.WriteTree(t, f.src, map[string]string{"src/later.py": "2\n"})
	f.backup(t, hoard.BackupRequest{Incremental: true})

	target := filepath.Join(t.TempDir(), "restored")
	if _, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item: "app", Backup: mid.Record.BackupName, Target: target,
	}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := testutil.ReadTree(t, target); !maps.Equal(got, snapshot) {
		t.Errorf("restored tree = %v, want %v", got, snapshot)
	}
}

func TestRestore_AfterRetentionKeepsChainIntact(t *testing.T) {
	f := newFixture(t, func(s *hoard.Settings) {
		s.Policy = retention.Policy{Tiers: []retention.Tier{
			{Name: retention.Hourly, Keep: 1, MaxAge: 24},
			{Name: retention.Daily, Keep: 7, MaxAge: 7},
		}}
	})
	f.backup(t, hoard.BackupRequest{})
	f.clock.Advance(47 * time.Hour)

	testutil.WriteTree(t, f.src, map[string]string{"src/app.py": "changed in the first incremental\n"})
	stamp := f.clock.Stamp()
	first := f.backup(t, hoard.BackupRequest{Incremental: true})
	if want := "app_" + stamp + "_incr.tar.gz"; first.Record.BackupName != want {
		t.Fatalf("first incremental = %s, want %s", first.Record.BackupName, want)
	}
	testutil.WriteTree(t, f.src, map[string]string{"src/other.py": "other = 1\n"})
	last := f.backup(t, hoard.BackupRequest{Incremental: true})

	if last.Retention == nil || len(last.Retention.Deleted) != 0 {
		t.Errorf("retention report = %+v, want nothing deleted", last.Retention)
	}
	if got := backupNames(t, f, record.ItemProject, "app"); !slices.Contains(got, first.Record.BackupName) {
		t.Fatalf("remaining = %v, want %s kept", got, first.Record.BackupName)
	}

	target := filepath.Join(t.TempDir(), "restored")
	res, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item: "app", Backup: last.Record.BackupName, Target: target,
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(res.Chain) != 3 {
		t.Errorf("Chain = %v, want full plus two incrementals", res.Chain)
	}
	if got, want := testutil.ReadTree(t, target), testutil.ReadTree(t, f.src); !maps.Equal(got, want) {
		t.Errorf("restored tree = %v\nwant %v", got, want)
	}
}

func TestRestore_MovesExistingTargetAside(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	target := filepath.Join(t.TempDir(), "restored")
	testutil.WriteTree(t, target, map[string]string{"keep.txt": "mine"})

	res, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{Item: "app", Target: target})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !strings.HasPrefix(filepath.Base(res.MovedAside), "restored_backup_") {
		t.Errorf("MovedAside = %q", res.MovedAside)
	}
	if data, err := os.ReadFile(filepath.Join(res.MovedAside, "keep.txt")); err != nil || string(data) != "mine" {
		t.Errorf("moved-aside content = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "keep.txt")); !os.IsNotExist(err) {
		t.Error("old content still in target")
	}
}

func TestRestore_SelectiveFallsBackToFull(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	testutil.WriteTree(t, f.src, map[string]string{"src/app.py": "print('changed, longer')\n"})
	incr := f.backup(t, hoard.BackupRequest{Incremental: true})

	target := t.TempDir()
	res, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item:     "app",
		Backup:   incr.Record.BackupName,
		Target:   target,
		Patterns: []string{"src/*.py"},
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if want := []string{"src/app.py", "src/util.py"}; !slices.Equal(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
	if len(res.Chain) != 2 || res.Chain[0] != incr.Record.BackupName {
		t.Errorf("Chain = %v, want incremental first then full", res.Chain)
	}
	got := testutil.ReadTree(t, target)
	if got["src/app.py"] != "print('changed, longer')\n" {
		t.Errorf("src/app.py = %q, want the incremental's version", got["src/app.py"])
	}
	if got["src/util.py"] != sourceFiles["src/util.py"] {
		t.Errorf("src/util.py = %q", got["src/util.py"])
	}
	if _, ok := got["main.go"]; ok {
		t.Error("unselected file restored")
	}
}

func TestRestore_SelectiveFlatten(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	target := t.TempDir()
	_, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item: "app", Target: target, Patterns: []string{"docs/README.md"}, Flatten: true,
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := testutil.ReadTree(t, target); got["README.md"] != sourceFiles["docs/README.md"] || len(got) != 1 {
		t.Errorf("tree = %v", got)
	}
}

func TestRestore_SelectiveNoMatch(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	_, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
		Item: "app", Target: t.TempDir(), Patterns: []string{"*.rs"},
	})
	if !errors.Is(err, hoard.ErrPrecondition) {
		t.Fatalf("error = %v, want ErrPrecondition", err)
	}
}

func TestRestore_IntegrityChecks(t *testing.T) {
	t.Run("corrupted backup aborts", func(t *testing.T) {
		f := newFixture(t)
		res := f.backup(t, hoard.BackupRequest{})
		testutil.FlipByte(t, res.Record.Path, 20)

		target := filepath.Join(t.TempDir(), "restored")
		_, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{Item: "app", Target: target})
		if !errors.Is(err, hoard.ErrIntegrity) {
			t.Fatalf("error = %v, want ErrIntegrity", err)
		}
		if !strings.Contains(err.Error(), "expected") {
			t.Errorf("error should report both digests: %v", err)
		}
		if _, err := os.Stat(target); !os.IsNotExist(err) {
			t.Error("target was created for a corrupted backup")
		}
	})

	t.Run("unverifiable needs consent", func(t *testing.T) {
		f := newFixture(t)
		res := f.backup(t, hoard.BackupRequest{})
		if err := os.Remove(record.SidecarPath(res.Record.Path)); err != nil {
			t.Fatal(err)
		}

		target := filepath.Join(t.TempDir(), "restored")
		_, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
			Item: "app", Backup: res.Record.BackupName, Target: target,
		})
		if !errors.Is(err, hoard.ErrIntegrity) {
			t.Fatalf("error = %v, want ErrIntegrity", err)
		}

		if _, err := f.engine.Restore(context.Background(), hoard.RestoreRequest{
			Item: "app", Backup: res.Record.BackupName, Target: target, AllowUnverifiable: true,
		}); err != nil {
			t.Fatalf("Restore(AllowUnverifiable) error = %v", err)
		}
	})
}

func TestRestore_Validation(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})

	tests := []struct {
		name string
		req  hoard.RestoreRequest
		want error
	}{
		{"protected target", hoard.RestoreRequest{Item: "app", Target: "/etc/hoard"}, hoard.ErrValidation},
		{"path in backup name", hoard.RestoreRequest{Item: "app", Backup: "../x.tar.gz", Target: t.TempDir()}, hoard.ErrValidation},
		{"missing backup", hoard.RestoreRequest{Item: "app", Backup: "app_20200101_000000_full.tar.gz", Target: t.TempDir()}, hoard.ErrPrecondition},
		{"unknown item", hoard.RestoreRequest{Item: "ghost", Target: t.TempDir()}, hoard.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Restore(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRestoreDatabase(t *testing.T) {
	f := newFixture(t)
	f.dumper.Dumps["shop"] = "INSERT INTO orders VALUES (1);\n"
	res := f.backup(t, hoard.BackupRequest{Type: record.ItemDatabase, Item: "shop"})

	r, err := f.engine.RestoreDatabase(context.Background(), hoard.DatabaseRestoreRequest{Item: "shop"})
	if err != nil {
		t.Fatalf("RestoreDatabase() error = %v", err)
	}
	if r.BackupName != res.Record.BackupName {
		t.Errorf("restored %s, want latest %s", r.BackupName, res.Record.BackupName)
	}
	if got := f.dumper.Restored["shop"]; got != "INSERT INTO orders VALUES (1);\n" {
		t.Errorf("restored SQL = %q", got)
	}
	if last := f.dumper.Passwords[len(f.dumper.Passwords)-1]; last != "secret" {
		t.Errorf("restore password = %q, want decrypted", last)
	}
}

func TestRestoreDatabase_Corrupted(t *testing.T) {
	f := newFixture(t)
	res := f.backup(t, hoard.BackupRequest{Type: record.ItemDatabase, Item: "plain"})
	testutil.FlipByte(t, res.Record.Path, 0)

	_, err := f.engine.RestoreDatabase(context.Background(), hoard.DatabaseRestoreRequest{Item: "plain"})
	if !errors.Is(err, hoard.ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
	if _, ok := f.dumper.Restored["plain"]; ok {
		t.Error("corrupted dump was fed to the database")
	}
}

func TestRestoreGit(t *testing.T) {
	f := newFixture(t)
	if err := testutil.InitRepo(f.src); err != nil {
		t.Fatal(err)
	}
	f.backup(t, hoard.BackupRequest{Type: record.ItemGit, Item: "app"})

	t.Run("clone", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "clone")
		testutil.WriteTree(t, target, map[string]string{"old": "x"})
		res, err := f.engine.RestoreGit(context.Background(), hoard.GitRestoreRequest{
			Item: "app", Target: target, Mode: hoard.GitClone,
		})
		if err != nil {
			t.Fatalf("RestoreGit() error = %v", err)
		}
		if res.MovedAside == "" {
			t.Error("existing target not moved aside")
		}
		if _, err := os.Stat(filepath.Join(target, "BUNDLE")); err != nil {
			t.Errorf("clone missing: %v", err)
		}
	})

	t.Run("fetch requires a repository", func(t *testing.T) {
		_, err := f.engine.RestoreGit(context.Background(), hoard.GitRestoreRequest{
			Item: "app", Target: t.TempDir(), Mode: hoard.GitFetch,
		})
		if !errors.Is(err, hoard.ErrPrecondition) {
			t.Fatalf("error = %v, want ErrPrecondition", err)
		}
	})

	t.Run("fetch", func(t *testing.T) {
		target := t.TempDir()
		if err := testutil.InitRepo(target); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.RestoreGit(context.Background(), hoard.GitRestoreRequest{
			Item: "app", Target: target, Mode: hoard.GitFetch,
		}); err != nil {
			t.Fatalf("RestoreGit() error = %v", err)
		}
		if len(f.git.Fetched) != 1 {
			t.Errorf("Fetched = %v", f.git.Fetched)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := f.engine.RestoreGit(context.Background(), hoard.GitRestoreRequest{
			Item: "app", Target: t.TempDir(), Mode: "merge",
		})
		if !errors.Is(err, hoard.ErrValidation) {
			t.Fatalf("error = %v, want ErrValidation", err)
		}
	})
}

func TestListContentsAndPreview(t *testing.T) {
	f := newFixture(t)
	res := f.backup(t, hoard.BackupRequest{})

	members, err := f.engine.ListContents("app", res.Record.BackupName, []string{"src"})
	if err != nil {
		t.Fatalf("ListContents() error = %v", err)
	}
	var paths []string
	for _, m := range members {
		if !m.Dir {
			paths = append(paths, m.Path)
		}
	}
	slices.Sort(paths)
	if want := []string{"src/app.py", "src/util.py"}; !slices.Equal(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}

	text, err := f.engine.Preview("app", "", "src/util.py", 1)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.HasPrefix(text, "def f():\n") || !strings.Contains(text, "more lines") {
		t.Errorf("Preview() = %q", text)
	}

	if _, err := f.engine.Preview("app", "", "missing.txt", 10); !errors.Is(err, hoard.ErrPrecondition) {
		t.Errorf("Preview(missing) error = %v, want ErrPrecondition", err)
	}
}
