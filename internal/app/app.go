package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hoard-go/internal/archive"
	"hoard-go/internal/config"
	"hoard-go/internal/fs"
	"hoard-go/internal/history"
	"hoard-go/internal/hoard"
	"hoard-go/internal/mirror"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
	"hoard-go/internal/secret"
	"hoard-go/internal/tools"
)

// historySnapshotName is the copy of the history database kept on the mirror.
const historySnapshotName = "history-snapshot.db"

// Options tune how the app is built.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool
}

// HoardApp is the application layer between the CLI and the engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and manages the history lifecycle on Close.
type HoardApp struct {
	cfg     *config.Config
	engine  *hoard.Engine
	history hoard.History
	mirror  hoard.Mirror
	secrets hoard.SecretBox
	tasks   *hoard.TaskManager
	logger  hoard.Logger
	op      *CommandOperation
	mutated bool
	logFile *os.File
}

// NewHoardApp creates a fully wired HoardApp from the given config.
// operation identifies the CLI command being run (e.g. "backup", "restore").
// The caller must call Close when done.
func NewHoardApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*HoardApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + hoard.UUIDGenerator{}.New()[:8]
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	sl, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	a := &HoardApp{
		cfg:     cfg,
		logger:  logger,
		op:      NewCommandOperation(operation, ""),
		logFile: logFile,
	}
	fail := func(err error) (*HoardApp, error) {
		a.closeResources()
		return nil, err
	}

	h, err := history.NewHistoryFromConfig(cfg.History, hoard.RealClock{})
	if err != nil {
		return fail(fmt.Errorf("creating history: %w", err))
	}
	a.history = h
	if sh, ok := h.(*history.SQLiteHistory); ok {
		st, err := sh.SchemaStatus()
		if err == nil {
			err = st.Err()
		}
		if err != nil {
			return fail(fmt.Errorf("history schema out of date: %w", err))
		}
		logger.Debug("history schema", "version", st.Current)
	}

	secrets, err := secret.NewSecretBoxFromConfig(cfg.Secret)
	if err != nil {
		return fail(fmt.Errorf("creating secret box: %w", err))
	}
	a.secrets = secrets

	m, err := mirror.NewMirrorFromConfig(ctx, cfg.Mirror)
	if err != nil {
		return fail(fmt.Errorf("creating mirror: %w", err))
	}
	a.mirror = m

	runner := tools.NewExecRunner(logger)
	timeouts := timeoutsFromConfig(cfg.Timeouts)
	deps := hoard.Deps{
		Dumper:  tools.NewMySQL(runner, timeouts, ""),
		Git:     tools.NewGit(runner, timeouts),
		Space:   fs.StatfsSpace{},
		Locker:  fs.FlockLocker{},
		Secrets: secrets,
		History: h,
		Logger:  logger,
		Clock:   hoard.RealClock{},
	}
	if m != nil {
		deps.Mirror = m
	}

	a.engine = hoard.NewEngine(settingsFromConfig(cfg), deps)
	a.tasks = hoard.NewTaskManager(hoard.UUIDGenerator{}, hoard.RealClock{}, logger)
	logger.Debug("app ready", "operation", operation, "root", cfg.Storage.LocalRoot)
	return a, nil
}

// Engine returns the underlying engine.
func (a *HoardApp) Engine() *hoard.Engine { return a.engine }

// persistOperation saves the command operation to the history, giving it an ID.
// This should only be called for commands that span several items.
func (a *HoardApp) persistOperation(params string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = params
	op, err := a.history.Start(hoard.Operation{Operation: a.op.Operation, Parameters: params})
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = op.ID
	return nil
}

func parseType(s string) (record.ItemType, error) {
	t, err := record.ParseItemType(s)
	if err != nil {
		return "", hoard.NewError(hoard.ErrValidation, "", "", err)
	}
	return t, nil
}

// Backup backs up one item.
func (a *HoardApp) Backup(ctx context.Context, itemType, item string, req hoard.BackupRequest) (*hoard.BackupResult, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	a.mutated = true
	req.Type, req.Item = t, item
	return a.engine.Backup(ctx, req)
}

// Backup scopes accepted by BackupAll.
const (
	ScopeProjects  = "projects"
	ScopeComplete  = "complete"
	ScopeDatabases = "databases"
	ScopeGit       = "git"
	ScopeAll       = "all"
)

// BackupAll backs up every enabled item in scope. ScopeAll runs projects,
// databases and git as concurrent tasks. Result keys are "<scope>/<item>".
func (a *HoardApp) BackupAll(ctx context.Context, scope string, incremental, skipIfToday bool) (map[string]hoard.BatchResult, error) {
	scopes := []string{scope}
	if scope == ScopeAll {
		scopes = []string{ScopeProjects, ScopeDatabases, ScopeGit}
	}
	for _, s := range scopes {
		if !validScope(s) {
			return nil, hoard.Errorf(hoard.ErrValidation, "backup", "", "unknown scope %q", s)
		}
	}
	params := scope
	if incremental {
		params += " incremental"
	}
	if err := a.persistOperation(params); err != nil {
		return nil, err
	}
	a.mutated = true

	events, unsubscribe := a.tasks.Subscribe(16)
	go func() {
		for ev := range events {
			a.logger.Debug("task state", "task", ev.TaskID, "target", ev.Target, "state", string(ev.State))
		}
	}()
	defer unsubscribe()

	results := make(map[string]hoard.BatchResult)
	var mu sync.Mutex
	batches := make(map[string]map[string]hoard.BatchResult, len(scopes))
	var ids []string
	for _, s := range scopes {
		task := a.tasks.Submit(ctx, "backup", s, func(ctx context.Context) (string, error) {
			res := a.runScope(ctx, s, incremental, skipIfToday)
			mu.Lock()
			batches[s] = res
			mu.Unlock()
			return summarize(res), nil
		})
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		task, err := a.tasks.Wait(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.State == hoard.TaskFailed {
			results[task.Target] = hoard.BatchResult{Message: task.Message}
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for s, res := range batches {
		for item, r := range res {
			results[s+"/"+item] = r
		}
	}

	if msg := summarize(results); failures(results) > 0 {
		a.op.Fail(msg)
	} else {
		a.op.Message = msg
	}
	return results, nil
}

func validScope(s string) bool {
	switch s {
	case ScopeProjects, ScopeComplete, ScopeDatabases, ScopeGit:
		return true
	}
	return false
}

func (a *HoardApp) runScope(ctx context.Context, scope string, incremental, skipIfToday bool) map[string]hoard.BatchResult {
	switch scope {
	case ScopeComplete:
		return a.engine.BackupAllComplete(ctx)
	case ScopeDatabases:
		return a.engine.BackupAllDatabases(ctx, skipIfToday)
	case ScopeGit:
		return a.engine.BackupAllGit(ctx, skipIfToday)
	default:
		return a.engine.BackupAllProjects(ctx, incremental, skipIfToday)
	}
}

func failures(results map[string]hoard.BatchResult) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}

func summarize(results map[string]hoard.BatchResult) string {
	return fmt.Sprintf("%d ok, %d failed", len(results)-failures(results), failures(results))
}

// Restore restores a project backup. An empty target restores over the
// project path.
func (a *HoardApp) Restore(ctx context.Context, req hoard.RestoreRequest) (*hoard.RestoreResult, error) {
	if req.Target != "" {
		abs, err := filepath.Abs(req.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		req.Target = abs
	}
	a.mutated = true
	return a.engine.Restore(ctx, req)
}

// RestoreDatabase loads a database dump back into its database.
func (a *HoardApp) RestoreDatabase(ctx context.Context, req hoard.DatabaseRestoreRequest) (*record.Record, error) {
	a.mutated = true
	return a.engine.RestoreDatabase(ctx, req)
}

// RestoreGit clones or fetches from a git bundle. mode is "clone" or "fetch".
func (a *HoardApp) RestoreGit(ctx context.Context, item, backup, target, mode string, allowUnverifiable bool) (*hoard.RestoreResult, error) {
	if target != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		target = abs
	}
	a.mutated = true
	return a.engine.RestoreGit(ctx, hoard.GitRestoreRequest{
		Item:              item,
		Backup:            backup,
		Target:            target,
		Mode:              hoard.GitRestoreMode(mode),
		AllowUnverifiable: allowUnverifiable,
	})
}

// Verify checks one backup, or every backup of the item when backup is empty.
func (a *HoardApp) Verify(itemType, item, backup string) ([]hoard.VerifyResult, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	a.mutated = true
	if backup == "" {
		return a.engine.VerifyAll(t, item)
	}
	res, err := a.engine.Verify(t, item, backup)
	if err != nil {
		return nil, err
	}
	return []hoard.VerifyResult{*res}, nil
}

// Backfill adds checksums to legacy records of an item.
func (a *HoardApp) Backfill(itemType, item string) (*hoard.BackfillReport, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	a.mutated = true
	return a.engine.BackfillChecksums(t, item)
}

// Tag updates the protection metadata of a backup.
func (a *HoardApp) Tag(ctx context.Context, itemType string, req hoard.TagRequest) (*record.Record, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	a.mutated = true
	req.Type = t
	return a.engine.Tag(ctx, req)
}

// Tagged lists protected backups. Empty arguments match everything.
func (a *HoardApp) Tagged(itemType, item, tag string) ([]*record.Record, error) {
	filter := hoard.TagFilter{Item: item, Tag: tag}
	if itemType != "" {
		t, err := parseType(itemType)
		if err != nil {
			return nil, err
		}
		filter.Type = t
	}
	return a.engine.ListTagged(filter)
}

// List returns the backups of an item, newest first.
func (a *HoardApp) List(itemType, item string) ([]*record.Record, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	return a.engine.ListBackups(t, item)
}

// Contents lists the members of a project backup.
func (a *HoardApp) Contents(item, backup string, patterns []string) ([]archive.Member, error) {
	return a.engine.ListContents(item, backup, patterns)
}

// Preview returns the first lines of a text member of a project backup.
func (a *HoardApp) Preview(item, backup, path string, maxLines int) (string, error) {
	return a.engine.Preview(item, backup, path, maxLines)
}

// RetentionPlan shows what retention would keep and delete for an item.
func (a *HoardApp) RetentionPlan(itemType, item string) (*retention.Result, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	return a.engine.PlanRetention(t, item)
}

// RetentionApply applies retention to one item.
func (a *HoardApp) RetentionApply(ctx context.Context, itemType, item string, dryRun bool) (*retention.Report, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	a.mutated = true
	return a.engine.ApplyRetention(ctx, t, item, dryRun)
}

// RetentionApplyAll applies retention to every item with backups in the store.
// Result keys are "<type>/<item>".
func (a *HoardApp) RetentionApplyAll(ctx context.Context, dryRun bool) (map[string]hoard.BatchResult, error) {
	params := ""
	if dryRun {
		params = "dry-run"
	}
	if err := a.persistOperation(params); err != nil {
		return nil, err
	}
	a.mutated = true

	var ids []string
	for _, target := range a.targets() {
		ids = append(ids, string(target.Type)+"/"+target.Item)
	}
	results := hoard.RunBatch(ctx, ids, 1, func(ctx context.Context, id string) (string, error) {
		typ, item, _ := strings.Cut(id, "/")
		rep, err := a.engine.ApplyRetention(ctx, record.ItemType(typ), item, dryRun)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d kept, %d deleted", rep.Kept, len(rep.Deleted)), nil
	}, a.logger)

	if msg := summarize(results); failures(results) > 0 {
		a.op.Fail(msg)
	} else {
		a.op.Message = msg
	}
	return results, nil
}

// Suggest proposes retention tiers for an item.
func (a *HoardApp) Suggest(itemType, item string) (*retention.Suggestion, error) {
	t, err := parseType(itemType)
	if err != nil {
		return nil, err
	}
	return a.engine.SuggestRetention(t, item)
}

type target struct {
	Type record.ItemType
	Item string
}

// targets lists every configured item that has a store directory.
func (a *HoardApp) targets() []target {
	var out []target
	add := func(t record.ItemType, item string) {
		if info, err := os.Stat(a.engine.ItemDir(t, item)); err == nil && info.IsDir() {
			out = append(out, target{Type: t, Item: item})
		}
	}
	for _, p := range a.engine.Projects() {
		add(record.ItemProject, p.Name)
		add(record.ItemGit, p.Name)
	}
	for _, db := range a.engine.Databases() {
		add(record.ItemDatabase, db.Name)
	}
	return out
}

// Status summarizes one item, or every item with backups when item is empty.
func (a *HoardApp) Status(itemType, item string) ([]*hoard.ItemStatus, error) {
	if item != "" {
		t, err := parseType(itemType)
		if err != nil {
			return nil, err
		}
		st, err := a.engine.Status(t, item)
		if err != nil {
			return nil, err
		}
		return []*hoard.ItemStatus{st}, nil
	}
	var out []*hoard.ItemStatus
	for _, tg := range a.targets() {
		if itemType != "" && string(tg.Type) != itemType {
			continue
		}
		st, err := a.engine.Status(tg.Type, tg.Item)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}

// History returns the most recent operations, optionally for one item.
func (a *HoardApp) History(item string, limit int) ([]*hoard.Operation, error) {
	return a.history.List(item, limit)
}

// CheckMirror validates that the configured mirror is reachable.
func (a *HoardApp) CheckMirror(ctx context.Context) error {
	if a.mirror == nil {
		return hoard.Errorf(hoard.ErrConfiguration, "mirror", "", "no mirror configured")
	}
	return a.mirror.ValidateSetup(ctx)
}

// Close finalizes the operation and closes all resources.
// For persisted operations the operation record is finished. When the
// history changed and a mirror is configured, a snapshot of the history
// database is copied to the mirror.
func (a *HoardApp) Close() error {
	var errs []error
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.op.Persisted() {
		if err := a.history.Finish(a.op.ID, a.op.Status, a.op.Message); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if a.mutated || a.op.Persisted() {
		if err := a.uploadHistory(context.Background()); err != nil {
			a.logger.Warn("history snapshot not mirrored", "error", err)
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *HoardApp) closeResources() error {
	var firstErr error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			firstErr = fmt.Errorf("closing history: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// uploadHistory snapshots the history database and syncs it to the mirror.
func (a *HoardApp) uploadHistory(ctx context.Context) error {
	sh, ok := a.history.(*history.SQLiteHistory)
	if a.mirror == nil || !ok || sh.Path() == ":memory:" {
		return nil
	}
	path := filepath.Join(filepath.Dir(sh.Path()), historySnapshotName)
	os.Remove(path)
	if err := sh.BackupTo(path); err != nil {
		return err
	}
	defer os.Remove(path)
	if _, err := a.mirror.Sync(ctx, "history", path); err != nil {
		return fmt.Errorf("uploading history snapshot: %w", err)
	}
	return nil
}

// InitSecrets creates the key used to seal database passwords.
func InitSecrets(cfg *config.Config) error {
	box, err := secret.NewSecretBoxFromConfig(cfg.Secret)
	if err != nil {
		return fmt.Errorf("creating secret box: %w", err)
	}
	return box.Setup()
}

// SealSecret encrypts a password for use in the config file.
func SealSecret(cfg *config.Config, plaintext string) (string, error) {
	box, err := secret.NewSecretBoxFromConfig(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("creating secret box: %w", err)
	}
	if !box.IsConfigured() {
		return "", hoard.Errorf(hoard.ErrPrecondition, "secret", "", "no key found; run 'hoard secret init' first")
	}
	return box.Seal(plaintext)
}
