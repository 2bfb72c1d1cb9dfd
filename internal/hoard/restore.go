package hoard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	"hoard-go/internal/archive"
	"hoard-go/internal/checksum"
	hfs "hoard-go/internal/fs"
	"hoard-go/internal/record"
)

// RestoreRequest describes a project restore.
type RestoreRequest struct {
	Item string
	// Backup is the artifact filename. Empty selects the latest backup.
	Backup string
	// Target is the directory to restore into. Empty uses the project path.
	Target string
	// Patterns, when set, restore only matching paths.
	Patterns []string
	// Flatten writes selected files directly into Target.
	Flatten bool
	// AllowUnverifiable restores backups that carry no checksum.
	AllowUnverifiable bool
}

// RestoreResult reports a finished restore.
type RestoreResult struct {
	Target string
	// MovedAside is where an existing target was renamed to, if anywhere.
	MovedAside string
	// Chain lists the backups extracted, in the order applied.
	Chain   []string
	Files   []string
	Removed []string
	Skipped []string
}

// resolve returns the record of backup, or the newest non-complete backup
// when name is empty.
func (e *Engine) resolve(op string, t record.ItemType, item, name string) (*record.Record, error) {
	if err := e.checkItem(op, t, item); err != nil {
		return nil, err
	}
	dir := e.ItemDir(t, item)
	if name == "" {
		records, err := record.Scan(t, dir)
		if err != nil {
			return nil, NewError(ErrIO, op, item, err)
		}
		for _, r := range records {
			if r.BackupType != record.KindComplete {
				return withItem(r, item), nil
			}
		}
		return nil, Errorf(ErrPrecondition, op, item, "no backups found for %s", item)
	}
	if err := record.ValidateBackupName(name); err != nil {
		return nil, NewError(ErrValidation, op, item, err)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, Errorf(ErrPrecondition, op, item, "backup %s not found", name)
	}
	r, err := record.Load(path)
	if err != nil {
		if !errors.Is(err, record.ErrNoSidecar) {
			return nil, NewError(ErrIO, op, item, err)
		}
		if r, err = record.Synthesize(t, path); err != nil {
			return nil, NewError(ErrIO, op, item, err)
		}
	}
	return withItem(r, item), nil
}

func withItem(r *record.Record, item string) *record.Record {
	if r.ItemName == "" {
		r.ItemName = item
	}
	return r
}

// checkIntegrity verifies r before it is restored.
func (e *Engine) checkIntegrity(op string, r *record.Record, allowUnverifiable bool) error {
	res, err := checksum.Verify(r.Path, r.Checksum)
	if err != nil {
		return NewError(ErrIO, op, r.ItemName, err)
	}
	switch res.Outcome {
	case checksum.Corrupted:
		e.logger.Error("backup failed verification", "backup", r.BackupName, "expected", res.Expected, "actual", res.Actual)
		return Errorf(ErrIntegrity, op, r.ItemName, "%s: %s", r.BackupName, res.Message())
	case checksum.Unverifiable:
		if !allowUnverifiable {
			return Errorf(ErrIntegrity, op, r.ItemName, "%s has no checksum; run backfill or allow unverifiable restores", r.BackupName)
		}
		e.logger.Warn("restoring unverifiable backup", "backup", r.BackupName)
	}
	return nil
}

// chain returns the backups needed to reproduce r, oldest first: its base
// full backup followed by every incremental on that base up to r.
func (e *Engine) chain(op string, r *record.Record) ([]*record.Record, error) {
	if r.BackupType != record.KindIncremental {
		return []*record.Record{r}, nil
	}
	if r.BaseBackup == "" {
		return nil, Errorf(ErrPrecondition, op, r.ItemName, "incremental %s does not name its base backup", r.BackupName)
	}
	records, err := record.Scan(record.ItemProject, filepath.Dir(r.Path))
	if err != nil {
		return nil, NewError(ErrIO, op, r.ItemName, err)
	}
	var base *record.Record
	var incs []*record.Record
	for _, c := range records {
		switch {
		case c.BackupName == r.BaseBackup:
			base = c
		case c.BackupType == record.KindIncremental && c.BaseBackup == r.BaseBackup && !c.Timestamp.After(r.Timestamp):
			incs = append(incs, c)
		}
	}
	if base == nil {
		return nil, Errorf(ErrPrecondition, op, r.ItemName, "base backup %s of %s is missing", r.BaseBackup, r.BackupName)
	}
	sort.SliceStable(incs, func(i, j int) bool {
		if !incs[i].Timestamp.Equal(incs[j].Timestamp) {
			return incs[i].Timestamp.Before(incs[j].Timestamp)
		}
		return incs[i].BackupName < incs[j].BackupName
	})
	return append([]*record.Record{base}, incs...), nil
}

// Restore restores a project backup. Restoring an incremental replays its
// chain. With Patterns only matching paths are restored, newest backup in the
// chain first, each path at most once.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) (res *RestoreResult, err error) {
	op := "restore"
	done := e.track(op, record.ItemProject, req.Item, req.Backup)
	defer func() {
		msg := ""
		if res != nil {
			msg = fmt.Sprintf("%d files restored to %s", len(res.Files), res.Target)
		}
		done(err, msg)
	}()

	r, err := e.resolve(op, record.ItemProject, req.Item, req.Backup)
	if err != nil {
		return nil, err
	}
	if record.Ext(r.BackupName) != record.ExtTarGz {
		return nil, Errorf(ErrValidation, op, req.Item, "%s is not a project archive", r.BackupName)
	}

	target := req.Target
	if target == "" {
		p, ok := e.projects[req.Item]
		if !ok {
			return nil, Errorf(ErrValidation, op, req.Item, "restore target is required")
		}
		target = p.Path
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}
	if err := hfs.ValidateRestoreTarget(target); err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}

	chain, err := e.chain(op, r)
	if err != nil {
		return nil, err
	}
	for _, c := range chain {
		if err := e.checkIntegrity(op, withItem(c, req.Item), req.AllowUnverifiable); err != nil {
			return nil, err
		}
	}

	res = &RestoreResult{Target: target}
	if len(req.Patterns) > 0 {
		return e.restoreSelected(op, req, chain, res)
	}

	if _, err := os.Lstat(target); err == nil {
		aside, err := hfs.RenameAside(target, e.clock.Now())
		if err != nil {
			return nil, NewError(ErrIO, op, req.Item, err)
		}
		res.MovedAside = aside
		e.logger.Info("moved existing target aside", "target", target, "moved_to", aside)
	}

	for _, c := range chain {
		if err := ctx.Err(); err != nil {
			return res, NewError(ErrIO, op, req.Item, err)
		}
		e.logger.Info("extracting backup", "item", req.Item, "backup", c.BackupName, "target", target)
		out, err := archive.Extract(c.Path, target, archive.ExtractOptions{})
		if err != nil {
			return res, NewError(ErrIO, op, req.Item, fmt.Errorf("extracting %s: %w", c.BackupName, err))
		}
		res.Chain = append(res.Chain, c.BackupName)
		res.Files = mergePaths(res.Files, out.Files)
		res.Skipped = append(res.Skipped, out.Skipped...)
		for _, s := range out.Skipped {
			e.logger.Warn("skipped link member", "backup", c.BackupName, "path", s)
		}
		for _, del := range c.FilesDeleted {
			p := filepath.Join(target, filepath.FromSlash(del))
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return res, NewError(ErrIO, op, req.Item, fmt.Errorf("removing %s: %w", del, err))
			}
			res.Removed = append(res.Removed, del)
			res.Files = removePath(res.Files, del)
		}
	}
	e.logger.Info("restore complete", "item", req.Item, "backup", r.BackupName, "files", len(res.Files))
	return res, nil
}

func (e *Engine) restoreSelected(op string, req RestoreRequest, chain []*record.Record, res *RestoreResult) (*RestoreResult, error) {
	sel, err := hfs.NewPathSelector(req.Patterns)
	if err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}
	done := make(map[string]bool)
	// A path deleted by a later incremental must not be restored from an
	// older backup in the chain.
	gone := make(map[string]bool)
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		match := func(rel string) bool {
			return sel.Match(rel) && !done[rel] && !gone[rel]
		}
		out, err := archive.Extract(c.Path, res.Target, archive.ExtractOptions{Match: match, Flatten: req.Flatten})
		if err != nil {
			return res, NewError(ErrIO, op, req.Item, fmt.Errorf("extracting %s: %w", c.BackupName, err))
		}
		if len(out.Files) > 0 {
			res.Chain = append(res.Chain, c.BackupName)
		}
		for _, f := range out.Files {
			done[f] = true
		}
		res.Files = append(res.Files, out.Files...)
		res.Skipped = append(res.Skipped, out.Skipped...)
		for _, d := range c.FilesDeleted {
			if !done[d] {
				gone[d] = true
			}
		}
	}
	if len(res.Files) == 0 {
		return res, Errorf(ErrPrecondition, op, req.Item, "no files matching %v in %s", req.Patterns, chain[len(chain)-1].BackupName)
	}
	sort.Strings(res.Files)
	e.logger.Info("selective restore complete", "item", req.Item, "files", len(res.Files), "target", res.Target)
	return res, nil
}

func mergePaths(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, p := range have {
		seen[p] = true
	}
	for _, p := range add {
		if !seen[p] {
			have = append(have, p)
			seen[p] = true
		}
	}
	return have
}

func removePath(paths []string, p string) []string {
	out := paths[:0]
	for _, q := range paths {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// DatabaseRestoreRequest describes a database restore.
type DatabaseRestoreRequest struct {
	Item              string
	Backup            string
	AllowUnverifiable bool
}

// RestoreDatabase loads a dump back into its database.
func (e *Engine) RestoreDatabase(ctx context.Context, req DatabaseRestoreRequest) (r *record.Record, err error) {
	op := "restore"
	done := e.track(op, record.ItemDatabase, req.Item, req.Backup)
	defer func() {
		msg := ""
		if r != nil {
			msg = r.BackupName
		}
		done(err, msg)
	}()

	db, err := e.database(op, req.Item)
	if err != nil {
		return nil, err
	}
	if e.dumper == nil {
		return nil, Errorf(ErrConfiguration, op, req.Item, "no database dumper configured")
	}
	r, err = e.resolve(op, record.ItemDatabase, req.Item, req.Backup)
	if err != nil {
		return nil, err
	}
	if err := e.checkIntegrity(op, r, req.AllowUnverifiable); err != nil {
		return nil, err
	}
	conn, err := e.openCredentials(op, db)
	if err != nil {
		return nil, err
	}

	dump := r.Path
	if record.Ext(r.BackupName) == record.ExtSQLGz {
		tmp, err := decompressToTemp(r.Path)
		if err != nil {
			return nil, NewError(ErrIO, op, req.Item, err)
		}
		defer os.Remove(tmp)
		dump = tmp
	}
	f, err := os.Open(dump)
	if err != nil {
		return nil, NewError(ErrIO, op, req.Item, err)
	}
	defer f.Close()

	e.logger.Info("restoring database", "item", req.Item, "backup", r.BackupName)
	if err := e.dumper.Restore(ctx, conn, f); err != nil {
		return nil, wrap(ErrTool, op, req.Item, err)
	}
	return r, nil
}

func decompressToTemp(path string) (name string, err error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	out, err := os.CreateTemp("", "hoard-restore-*.sql")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out.Name())
		}
	}()
	if _, err := io.Copy(out, gz); err != nil {
		return "", fmt.Errorf("decompressing %s: %w", filepath.Base(path), err)
	}
	return out.Name(), nil
}

// GitRestoreMode selects how a bundle is restored.
type GitRestoreMode string

const (
	GitClone GitRestoreMode = "clone"
	GitFetch GitRestoreMode = "fetch"
)

// GitRestoreRequest describes a git bundle restore.
type GitRestoreRequest struct {
	Item              string
	Backup            string
	Target            string
	Mode              GitRestoreMode
	AllowUnverifiable bool
}

// RestoreGit clones a bundle into a fresh directory or fetches it into an
// existing repository.
func (e *Engine) RestoreGit(ctx context.Context, req GitRestoreRequest) (res *RestoreResult, err error) {
	op := "restore"
	done := e.track(op, record.ItemGit, req.Item, string(req.Mode)+" "+req.Backup)
	defer func() {
		msg := ""
		if res != nil {
			msg = res.Target
		}
		done(err, msg)
	}()

	if e.git == nil {
		return nil, Errorf(ErrConfiguration, op, req.Item, "no git tool configured")
	}
	if req.Mode == "" {
		req.Mode = GitClone
	}
	if req.Mode != GitClone && req.Mode != GitFetch {
		return nil, Errorf(ErrValidation, op, req.Item, "invalid git restore mode %q", req.Mode)
	}
	if req.Target == "" {
		return nil, Errorf(ErrValidation, op, req.Item, "restore target is required")
	}
	target, err := filepath.Abs(req.Target)
	if err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}
	if err := hfs.ValidateRestoreTarget(target); err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}

	r, err := e.resolve(op, record.ItemGit, req.Item, req.Backup)
	if err != nil {
		return nil, err
	}
	if err := e.checkIntegrity(op, r, req.AllowUnverifiable); err != nil {
		return nil, err
	}

	res = &RestoreResult{Target: target, Chain: []string{r.BackupName}}
	switch req.Mode {
	case GitClone:
		if _, err := os.Lstat(target); err == nil {
			aside, err := hfs.RenameAside(target, e.clock.Now())
			if err != nil {
				return nil, NewError(ErrIO, op, req.Item, err)
			}
			res.MovedAside = aside
		}
		if err := e.git.Clone(ctx, r.Path, target); err != nil {
			return nil, wrap(ErrTool, op, req.Item, err)
		}
	case GitFetch:
		if !e.git.IsWorkTree(ctx, target) {
			return nil, Errorf(ErrPrecondition, op, req.Item, "%s is not a git repository", target)
		}
		if err := e.git.VerifyBundle(ctx, target, r.Path); err != nil {
			return nil, wrap(ErrTool, op, req.Item, err)
		}
		if err := e.git.Fetch(ctx, r.Path, target); err != nil {
			return nil, wrap(ErrTool, op, req.Item, err)
		}
	}
	e.logger.Info("git restore complete", "item", req.Item, "backup", r.BackupName, "mode", string(req.Mode), "target", target)
	return res, nil
}

// ListContents returns the members of a project backup, optionally limited
// to paths matching patterns.
func (e *Engine) ListContents(item, backup string, patterns []string) ([]archive.Member, error) {
	op := "list"
	r, err := e.resolve(op, record.ItemProject, item, backup)
	if err != nil {
		return nil, err
	}
	members, err := archive.List(r.Path)
	if err != nil {
		return nil, NewError(ErrIO, op, item, err)
	}
	if len(patterns) == 0 {
		return members, nil
	}
	sel, err := hfs.NewPathSelector(patterns)
	if err != nil {
		return nil, NewError(ErrValidation, op, item, err)
	}
	out := members[:0]
	for _, m := range members {
		if m.Path != "" && sel.Match(m.Path) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Preview returns up to maxLines lines of one text file in a project backup.
func (e *Engine) Preview(item, backup, path string, maxLines int) (string, error) {
	op := "preview"
	r, err := e.resolve(op, record.ItemProject, item, backup)
	if err != nil {
		return "", err
	}
	text, err := archive.Preview(r.Path, path, maxLines)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrMemberNotFound):
			return "", NewError(ErrPrecondition, op, item, err)
		case errors.Is(err, archive.ErrBinary):
			return "", NewError(ErrValidation, op, item, err)
		}
		return "", NewError(ErrIO, op, item, err)
	}
	return text, nil
}
