package hoard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"hoard-go/internal/archive"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
)

// BackupRequest describes one backup to take.
type BackupRequest struct {
	Type        record.ItemType
	Item        string
	Description string
	// Incremental archives only files changed since the last project backup.
	Incremental bool
	// Complete archives the whole project tree into its fixed-name complete backup.
	Complete bool
	// SkipIfToday does nothing when the item already has a backup dated today.
	SkipIfToday bool
}

// BackupResult reports a finished backup.
type BackupResult struct {
	Record  *record.Record
	Skipped bool
	// Degraded is set when an incremental was requested but a full backup was taken.
	Degraded       bool
	DegradedReason string
	// Ignored lists symlinks and special files left out of a project archive.
	Ignored   []string
	Mirrored  bool
	Retention *retention.Report
	// Warnings are failures after the artifact was finalized.
	Warnings []string
}

// Backup creates a backup of one item.
func (e *Engine) Backup(ctx context.Context, req BackupRequest) (res *BackupResult, err error) {
	op := "backup"
	params := backupParams(req)
	done := e.track(op, req.Type, req.Item, params)
	defer func() {
		msg := ""
		if res != nil && res.Record != nil {
			msg = res.Record.BackupName
		} else if res != nil && res.Skipped {
			msg = "skipped: already backed up today"
		}
		done(err, msg)
	}()

	switch req.Type {
	case record.ItemProject:
		p, err := e.project(op, req.Item)
		if err != nil {
			return nil, err
		}
		if req.Complete {
			return e.backupComplete(ctx, p)
		}
		return e.backupProject(ctx, p, req)
	case record.ItemDatabase:
		db, err := e.database(op, req.Item)
		if err != nil {
			return nil, err
		}
		return e.backupDatabase(ctx, db, req)
	case record.ItemGit:
		p, err := e.project(op, req.Item)
		if err != nil {
			return nil, err
		}
		return e.backupGit(ctx, p, req)
	}
	return nil, Errorf(ErrValidation, op, req.Item, "invalid item type %q", req.Type)
}

func backupParams(req BackupRequest) string {
	var parts []string
	switch {
	case req.Complete:
		parts = append(parts, "complete")
	case req.Incremental:
		parts = append(parts, "incremental")
	}
	if req.SkipIfToday {
		parts = append(parts, "skip-if-today")
	}
	if req.Description != "" {
		parts = append(parts, "description="+req.Description)
	}
	return strings.Join(parts, " ")
}

// backedUpToday reports whether dir holds an artifact whose filename is dated today.
func (e *Engine) backedUpToday(dir, item string) (bool, error) {
	paths, err := record.Artifacts(dir)
	if err != nil {
		return false, err
	}
	prefix := item + "_" + e.clock.Now().Format("20060102") + "_"
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) requireSource(op, item, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return Errorf(ErrPrecondition, op, item, "source %s is not accessible: %v", path, err)
	}
	if !info.IsDir() {
		return Errorf(ErrPrecondition, op, item, "source %s is not a directory", path)
	}
	return nil
}

// partialPath is where an artifact is written before it is finalized.
// Hidden names are never listed as artifacts.
func partialPath(dir, name string) string {
	return filepath.Join(dir, "."+name+".partial")
}

// latestFull returns the newest full backup in dir, or nil.
func latestFull(dir string) (*record.Record, error) {
	records, err := record.Scan(record.ItemProject, dir)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.BackupType == record.KindFull {
			return r, nil
		}
	}
	return nil, nil
}

func (e *Engine) backupProject(ctx context.Context, p Project, req BackupRequest) (*BackupResult, error) {
	op := "backup"
	if err := e.requireSource(op, p.Name, p.Path); err != nil {
		return nil, err
	}
	unlock, err := e.lock(op, record.ItemProject, p.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := e.ItemDir(record.ItemProject, p.Name)
	if req.SkipIfToday {
		today, err := e.backedUpToday(dir, p.Name)
		if err != nil {
			return nil, NewError(ErrIO, op, p.Name, err)
		}
		if today {
			e.logger.Info("backup skipped, already backed up today", "item", p.Name)
			return &BackupResult{Skipped: true}, nil
		}
	}

	opts := archive.Options{
		Root:    p.Path,
		Item:    p.Name,
		Mode:    archive.ModeFull,
		Exclude: append(append([]string{}, e.globalExclude...), p.Exclude...),
	}
	res := &BackupResult{}
	snapshotPath := archive.SnapshotPath(dir, p.Name)

	var base *record.Record
	if req.Incremental {
		base, err = latestFull(dir)
		if err != nil {
			return nil, NewError(ErrIO, op, p.Name, err)
		}
		idx, idxErr := archive.LoadSnapshot(snapshotPath)
		switch {
		case base == nil:
			res.Degraded, res.DegradedReason = true, "no full backup to base on"
		case idxErr != nil:
			res.Degraded, res.DegradedReason = true, idxErr.Error()
		default:
			opts.Mode = archive.ModeIncremental
			opts.Baseline = idx
		}
		if res.Degraded {
			e.logger.Warn("incremental backup not possible, taking a full backup",
				"item", p.Name, "reason", res.DegradedReason)
		}
	}

	estimate, err := archive.Estimate(ctx, opts)
	if err != nil {
		return nil, NewError(ErrIO, op, p.Name, err)
	}
	required := int64(float64(estimate) * projectCompressionFactor * spaceSafetyMargin)
	if err := e.checkSpace(op, p.Name, dir, required); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	kind := record.KindFull
	if opts.Mode == archive.ModeIncremental {
		kind = record.KindIncremental
	}
	name := record.FormatName(p.Name, now, kind, true)
	partial := partialPath(dir, name)

	e.logger.Info("creating project backup", "item", p.Name, "mode", opts.Mode.String(), "backup", name)
	built, err := archive.Build(ctx, partial, opts)
	if err != nil {
		return nil, NewError(ErrIO, op, p.Name, err)
	}
	res.Ignored = built.Ignored
	for _, ig := range built.Ignored {
		e.logger.Debug("skipped non-regular file", "item", p.Name, "path", ig)
	}

	r := record.New(record.ItemProject, p.Name, name, kind, now)
	r.Description = req.Description
	r.Path = filepath.Join(dir, name)
	r.FilesAdded = built.FilesAdded
	if kind == record.KindIncremental {
		r.BaseBackup = base.BackupName
		r.FilesSkipped = built.FilesSkipped
		r.FilesDeleted = built.Deleted
	}

	if err := e.finalize(op, r, partial, record.LatestLink(record.ExtTarGz)); err != nil {
		return nil, err
	}
	res.Record = r

	if err := built.Index.Save(snapshotPath); err != nil {
		e.logger.Error("failed to save snapshot index", "item", p.Name, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("snapshot index not saved: %v", err))
	}

	e.publish(ctx, r, res)
	return res, nil
}

func (e *Engine) backupComplete(ctx context.Context, p Project) (*BackupResult, error) {
	op := "backup"
	if err := e.requireSource(op, p.Name, p.Path); err != nil {
		return nil, err
	}
	unlock, err := e.lock(op, record.ItemProject, p.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := e.ItemDir(record.ItemProject, p.Name)
	opts := archive.Options{
		Root:            p.Path,
		Item:            p.Name,
		Mode:            archive.ModeComplete,
		ArchivePatterns: e.completePatterns,
	}
	estimate, err := archive.Estimate(ctx, opts)
	if err != nil {
		return nil, NewError(ErrIO, op, p.Name, err)
	}
	required := int64(float64(estimate) * projectCompressionFactor * spaceSafetyMargin)
	if err := e.checkSpace(op, p.Name, dir, required); err != nil {
		return nil, err
	}

	name := record.CompleteName(p.Name)
	partial := partialPath(dir, name)
	os.Remove(partial)

	e.logger.Info("creating complete backup", "item", p.Name, "backup", name)
	built, err := archive.Build(ctx, partial, opts)
	if err != nil {
		return nil, NewError(ErrIO, op, p.Name, err)
	}

	r := record.New(record.ItemProject, p.Name, name, record.KindComplete, e.clock.Now())
	r.Path = filepath.Join(dir, name)
	r.FilesAdded = built.FilesAdded
	if err := e.finalize(op, r, partial, record.LatestCompleteLink); err != nil {
		return nil, err
	}

	res := &BackupResult{Record: r, Ignored: built.Ignored}
	e.publish(ctx, r, res)
	return res, nil
}

func (e *Engine) backupDatabase(ctx context.Context, db Database, req BackupRequest) (*BackupResult, error) {
	op := "backup"
	if e.dumper == nil {
		return nil, Errorf(ErrConfiguration, op, db.Name, "no database dumper configured")
	}
	unlock, err := e.lock(op, record.ItemDatabase, db.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := e.ItemDir(record.ItemDatabase, db.Name)
	if req.SkipIfToday {
		today, err := e.backedUpToday(dir, db.Name)
		if err != nil {
			return nil, NewError(ErrIO, op, db.Name, err)
		}
		if today {
			e.logger.Info("backup skipped, already backed up today", "item", db.Name)
			return &BackupResult{Skipped: true}, nil
		}
	}

	required := int64(float64(int64(e.minDBSpaceMB)*1024*1024) * databaseSpaceMargin)
	if err := e.checkSpace(op, db.Name, dir, required); err != nil {
		return nil, err
	}

	conn, err := e.openCredentials(op, db)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	name := record.FormatName(db.Name, now, record.KindDatabase, db.Compress)
	partial := partialPath(dir, name)

	e.logger.Info("dumping database", "item", db.Name, "backup", name, "compress", db.Compress)
	if err := e.dumpTo(ctx, conn, partial); err != nil {
		os.Remove(partial)
		return nil, wrap(ErrTool, op, db.Name, err)
	}

	r := record.New(record.ItemDatabase, db.Name, name, record.KindDatabase, now)
	r.Description = req.Description
	r.Compressed = db.Compress
	r.Path = filepath.Join(dir, name)
	if err := e.finalize(op, r, partial, record.LatestLink(record.Ext(name))); err != nil {
		return nil, err
	}

	res := &BackupResult{Record: r}
	e.publish(ctx, r, res)
	return res, nil
}

// openCredentials returns db with its password decrypted.
func (e *Engine) openCredentials(op string, db Database) (Database, error) {
	if !IsSealed(db.Password) {
		return db, nil
	}
	if e.secrets == nil {
		return db, Errorf(ErrConfiguration, op, db.Name, "password is encrypted but no secret key is configured")
	}
	plain, err := e.secrets.Open(db.Password)
	if err != nil {
		return db, Errorf(ErrConfiguration, op, db.Name, "decrypting password: %v", err)
	}
	db.Password = plain
	return db, nil
}

func (e *Engine) dumpTo(ctx context.Context, db Database, dest string) (err error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return NewError(ErrIO, "backup", db.Name, fmt.Errorf("creating dump file: %w", err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = NewError(ErrIO, "backup", db.Name, fmt.Errorf("closing dump file: %w", cerr))
		}
	}()

	if !db.Compress {
		return e.dumper.Dump(ctx, db, f)
	}
	gz := gzip.NewWriter(f)
	if err := e.dumper.Dump(ctx, db, gz); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return NewError(ErrIO, "backup", db.Name, fmt.Errorf("closing gzip stream: %w", err))
	}
	return nil
}

func (e *Engine) backupGit(ctx context.Context, p Project, req BackupRequest) (*BackupResult, error) {
	op := "backup"
	if e.git == nil {
		return nil, Errorf(ErrConfiguration, op, p.Name, "no git tool configured")
	}
	if err := e.requireSource(op, p.Name, p.Path); err != nil {
		return nil, err
	}
	if !e.git.IsWorkTree(ctx, p.Path) {
		return nil, Errorf(ErrPrecondition, op, p.Name, "%s is not a git repository", p.Path)
	}
	unlock, err := e.lock(op, record.ItemGit, p.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := e.ItemDir(record.ItemGit, p.Name)
	if req.SkipIfToday {
		today, err := e.backedUpToday(dir, p.Name)
		if err != nil {
			return nil, NewError(ErrIO, op, p.Name, err)
		}
		if today {
			e.logger.Info("backup skipped, already backed up today", "item", p.Name)
			return &BackupResult{Skipped: true}, nil
		}
	}

	info, err := e.git.Info(ctx, p.Path)
	if err != nil {
		return nil, wrap(ErrTool, op, p.Name, err)
	}

	now := e.clock.Now()
	name := record.FormatName(p.Name, now, record.KindGitBundle, false)
	partial := partialPath(dir, name)

	e.logger.Info("creating git bundle", "item", p.Name, "branch", info.Branch, "backup", name)
	if err := e.git.Bundle(ctx, p.Path, partial); err != nil {
		os.Remove(partial)
		return nil, wrap(ErrTool, op, p.Name, err)
	}
	if _, err := os.Stat(partial); err != nil {
		return nil, Errorf(ErrTool, op, p.Name, "git bundle produced no file: %v", err)
	}

	r := record.New(record.ItemGit, p.Name, name, record.KindGitBundle, now)
	r.Description = req.Description
	r.Branch = info.Branch
	r.Commit = info.Commit
	r.CommitMessage = info.CommitMessage
	r.HasUncommittedChanges = info.Dirty
	r.Path = filepath.Join(dir, name)
	if err := e.finalize(op, r, partial, record.LatestLink(record.ExtBundle)); err != nil {
		return nil, err
	}

	res := &BackupResult{Record: r}
	e.publish(ctx, r, res)
	return res, nil
}
