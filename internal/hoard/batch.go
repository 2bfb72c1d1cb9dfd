package hoard

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"hoard-go/internal/record"
)

// BatchResult is the outcome of one item in a batch.
type BatchResult struct {
	OK      bool
	Message string
}

// BatchFunc runs one item of a batch and returns a short success message.
type BatchFunc func(ctx context.Context, id string) (string, error)

// RunBatch runs fn for every id on at most width goroutines and collects the
// results by id. Duplicate ids run once. A failing or panicking item is
// recorded as a failure and the others keep going. With width <= 1, or a
// single id, items run inline in order.
func RunBatch(ctx context.Context, ids []string, width int, fn BatchFunc, logger Logger) map[string]BatchResult {
	if logger == nil {
		logger = NewNopLogger()
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	results := make(map[string]BatchResult, len(unique))
	if width <= 1 || len(unique) <= 1 {
		for _, id := range unique {
			results[id] = runOne(ctx, id, fn, logger)
		}
		return results
	}
	if width > len(unique) {
		width = len(unique)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)
	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				res := runOne(ctx, id, fn, logger)
				mu.Lock()
				results[id] = res
				mu.Unlock()
			}
		}()
	}
	for _, id := range unique {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	return results
}

func runOne(ctx context.Context, id string, fn BatchFunc, logger Logger) (res BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batch item panicked", "item", id, "panic", r, "stack", string(debug.Stack()))
			res = BatchResult{Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return BatchResult{Message: err.Error()}
	}
	msg, err := fn(ctx, id)
	if err != nil {
		logger.Warn("batch item failed", "item", id, "error", err)
		return BatchResult{Message: err.Error()}
	}
	return BatchResult{OK: true, Message: msg}
}

func backupMessage(res *BackupResult) string {
	switch {
	case res == nil:
		return ""
	case res.Skipped:
		return "skipped: already backed up today"
	case res.Record == nil:
		return ""
	case len(res.Warnings) > 0:
		return fmt.Sprintf("%s (%d warnings)", res.Record.BackupName, len(res.Warnings))
	}
	return res.Record.BackupName
}

// BackupMany backs up the named items of one type in parallel.
func (e *Engine) BackupMany(ctx context.Context, t record.ItemType, items []string, tmpl BackupRequest) map[string]BatchResult {
	return RunBatch(ctx, items, e.width, func(ctx context.Context, id string) (string, error) {
		req := tmpl
		req.Type, req.Item = t, id
		res, err := e.Backup(ctx, req)
		if err != nil {
			return "", err
		}
		return backupMessage(res), nil
	}, e.logger)
}

// BackupAllProjects backs up every enabled project, incrementally if asked.
func (e *Engine) BackupAllProjects(ctx context.Context, incremental, skipIfToday bool) map[string]BatchResult {
	return e.BackupMany(ctx, record.ItemProject, e.enabledProjects(),
		BackupRequest{Incremental: incremental, SkipIfToday: skipIfToday})
}

// BackupAllComplete takes a complete backup of every enabled project.
func (e *Engine) BackupAllComplete(ctx context.Context) map[string]BatchResult {
	return e.BackupMany(ctx, record.ItemProject, e.enabledProjects(), BackupRequest{Complete: true})
}

// BackupAllDatabases dumps every enabled database.
func (e *Engine) BackupAllDatabases(ctx context.Context, skipIfToday bool) map[string]BatchResult {
	var names []string
	for _, db := range e.Databases() {
		if db.Enabled {
			names = append(names, db.Name)
		}
	}
	return e.BackupMany(ctx, record.ItemDatabase, names, BackupRequest{SkipIfToday: skipIfToday})
}

// BackupAllGit bundles every enabled project that is a git work tree.
func (e *Engine) BackupAllGit(ctx context.Context, skipIfToday bool) map[string]BatchResult {
	var names []string
	if e.git != nil {
		for _, p := range e.Projects() {
			if p.Enabled && e.git.IsWorkTree(ctx, p.Path) {
				names = append(names, p.Name)
			}
		}
	}
	return e.BackupMany(ctx, record.ItemGit, names, BackupRequest{SkipIfToday: skipIfToday})
}

func (e *Engine) enabledProjects() []string {
	var names []string
	for _, p := range e.Projects() {
		if p.Enabled {
			names = append(names, p.Name)
		}
	}
	return names
}
