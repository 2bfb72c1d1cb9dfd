package hoard_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hoard-go/internal/hoard"
	"hoard-go/internal/record"
	"hoard-go/internal/testutil"
)

func TestRunBatch(t *testing.T) {
	t.Run("isolates failures and panics", func(t *testing.T) {
		ids := []string{"a", "b", "c", "d", "e"}
		results := hoard.RunBatch(context.Background(), ids, 3, func(ctx context.Context, id string) (string, error) {
			switch id {
			case "c":
				return "", errors.New("boom")
			case "d":
				panic("bad item")
			}
			return "done " + id, nil
		}, nil)

		if len(results) != len(ids) {
			t.Fatalf("results = %d, want %d", len(results), len(ids))
		}
		for _, id := range []string{"a", "b", "e"} {
			if !results[id].OK || results[id].Message != "done "+id {
				t.Errorf("results[%s] = %+v", id, results[id])
			}
		}
		if results["c"].OK || results["c"].Message != "boom" {
			t.Errorf("results[c] = %+v", results["c"])
		}
		if results["d"].OK || results["d"].Message != "panic: bad item" {
			t.Errorf("results[d] = %+v", results["d"])
		}
	})

	t.Run("runs duplicates once", func(t *testing.T) {
		var mu sync.Mutex
		calls := map[string]int{}
		hoard.RunBatch(context.Background(), []string{"x", "y", "x", "x"}, 4, func(ctx context.Context, id string) (string, error) {
			mu.Lock()
			calls[id]++
			mu.Unlock()
			return "", nil
		}, nil)
		if calls["x"] != 1 || calls["y"] != 1 {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("bounds concurrency", func(t *testing.T) {
		var running, peak int32
		ids := make([]string, 12)
		for i := range ids {
			ids[i] = fmt.Sprintf("item-%d", i)
		}
		hoard.RunBatch(context.Background(), ids, 3, func(ctx context.Context, id string) (string, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return "", nil
		}, nil)
		if peak > 3 {
			t.Errorf("peak concurrency = %d, want <= 3", peak)
		}
	})

	t.Run("width one runs inline in order", func(t *testing.T) {
		var order []string
		hoard.RunBatch(context.Background(), []string{"a", "b", "c"}, 1, func(ctx context.Context, id string) (string, error) {
			order = append(order, id)
			return "", nil
		}, nil)
		if fmt.Sprint(order) != "[a b c]" {
			t.Errorf("order = %v", order)
		}
	})
}

func TestBackupMany_OneMissingItem(t *testing.T) {
	base := t.TempDir()
	var projects []hoard.Project
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("p%d", i)
		path := filepath.Join(base, name)
		if i != 3 {
			testutil.WriteTree(t, path, map[string]string{"file.txt": name})
		}
		projects = append(projects, hoard.Project{Name: name, Path: path, Enabled: true})
	}
	f := newFixture(t, func(s *hoard.Settings) {
		s.Projects = projects
		s.BatchWidth = 3
	})

	results := f.engine.BackupAllProjects(context.Background(), false, false)
	if len(results) != 5 {
		t.Fatalf("results = %v", results)
	}
	for name, res := range results {
		if name == "p3" {
			if res.OK {
				t.Errorf("p3 should fail: %+v", res)
			}
			continue
		}
		if !res.OK {
			t.Errorf("%s failed: %s", name, res.Message)
		}
		paths, err := record.Artifacts(f.engine.ItemDir(record.ItemProject, name))
		if err != nil || len(paths) != 1 {
			t.Errorf("%s artifacts = %v, %v", name, paths, err)
		}
	}
}

func TestBackupAllDatabasesAndGit(t *testing.T) {
	f := newFixture(t)
	if err := testutil.InitRepo(f.src); err != nil {
		t.Fatal(err)
	}

	dbs := f.engine.BackupAllDatabases(context.Background(), false)
	if len(dbs) != 2 || !dbs["shop"].OK || !dbs["plain"].OK {
		t.Errorf("databases = %+v", dbs)
	}

	git := f.engine.BackupAllGit(context.Background(), false)
	if len(git) != 1 || !git["app"].OK {
		t.Errorf("git = %+v", git)
	}
}
