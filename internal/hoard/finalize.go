package hoard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hoard-go/internal/checksum"
	hfs "hoard-go/internal/fs"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
)

// finalize moves a written artifact into place and completes its metadata:
// permissions, checksum, size, sidecar and the latest symlink, in that order.
// If any step fails the artifact and its sidecar are removed.
func (e *Engine) finalize(op string, r *record.Record, partial, link string) (err error) {
	if err := os.Rename(partial, r.Path); err != nil {
		os.Remove(partial)
		return NewError(ErrIO, op, r.ItemName, fmt.Errorf("moving artifact into place: %w", err))
	}
	success := false
	defer func() {
		if !success {
			if rmErr := record.Remove(r.Path); rmErr != nil {
				e.logger.Error("failed to remove unfinished artifact", "backup", r.BackupName, "error", rmErr)
			}
		}
	}()

	if err := os.Chmod(r.Path, 0600); err != nil {
		return NewError(ErrIO, op, r.ItemName, fmt.Errorf("setting artifact permissions: %w", err))
	}
	sum, err := checksum.Compute(r.Path)
	if err != nil {
		return NewError(ErrIO, op, r.ItemName, fmt.Errorf("computing checksum: %w", err))
	}
	r.Checksum = sum
	info, err := os.Stat(r.Path)
	if err != nil {
		return NewError(ErrIO, op, r.ItemName, err)
	}
	r.SetSize(info.Size())

	if err := record.Save(r); err != nil {
		e.logger.Error("failed to write metadata", "backup", r.BackupName, "error", err)
		return NewError(ErrIO, op, r.ItemName, err)
	}
	if err := hfs.ReplaceSymlink(r.BackupName, filepath.Join(filepath.Dir(r.Path), link)); err != nil {
		e.logger.Error("failed to update latest link", "backup", r.BackupName, "error", err)
		return NewError(ErrIO, op, r.ItemName, err)
	}

	success = true
	e.logger.Info("backup created", "item", r.ItemName, "backup", r.BackupName, "size", r.SizeBytes, "sha256", r.Checksum)
	return nil
}

// publish copies a finalized artifact to the mirror and then applies
// retention to its item. Both are best effort: failures become warnings.
func (e *Engine) publish(ctx context.Context, r *record.Record, res *BackupResult) {
	if e.mirror != nil {
		copied, err := e.mirrorRecord(ctx, r)
		if err != nil {
			e.logger.Warn("mirror copy failed", "backup", r.BackupName, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("mirror copy failed: %v", err))
		} else {
			res.Mirrored = copied
		}
	}

	if r.BackupType == record.KindComplete {
		return
	}
	report, err := e.retire(ctx, r.ItemType, r.ItemName, false)
	if err != nil {
		e.logger.Warn("retention failed", "item", r.ItemName, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("retention failed: %v", err))
		return
	}
	res.Retention = report
	for _, rerr := range report.Errors {
		res.Warnings = append(res.Warnings, fmt.Sprintf("retention: %v", rerr))
	}
}

// mirrorRecord copies an artifact and its sidecar to the mirror. A failed
// copy is removed from the mirror.
func (e *Engine) mirrorRecord(ctx context.Context, r *record.Record) (bool, error) {
	subdir := mirrorDir(r.ItemType, r.ItemName)
	copied, err := e.mirror.Sync(ctx, subdir, r.Path)
	if err != nil {
		if delErr := e.mirror.Delete(ctx, subdir, r.BackupName); delErr != nil {
			e.logger.Warn("failed to remove partial mirror copy", "backup", r.BackupName, "error", delErr)
		}
		return false, err
	}
	if _, err := e.mirror.Sync(ctx, subdir, record.SidecarPath(r.Path)); err != nil {
		for _, name := range []string{r.BackupName, record.SidecarName(r.BackupName)} {
			if delErr := e.mirror.Delete(ctx, subdir, name); delErr != nil {
				e.logger.Warn("failed to remove partial mirror copy", "name", name, "error", delErr)
			}
		}
		return false, fmt.Errorf("copying metadata: %w", err)
	}
	return copied, nil
}

// retire plans and applies retention for one item, deleting from the local
// store and the mirror. The caller must hold the item lock.
func (e *Engine) retire(ctx context.Context, t record.ItemType, item string, dryRun bool) (*retention.Report, error) {
	plan, err := e.plan(t, item)
	if err != nil {
		return nil, err
	}
	report := retention.Apply(plan, dryRun, retention.DeleterFunc(func(r *record.Record) error {
		if err := record.Remove(r.Path); err != nil {
			return err
		}
		e.logger.Info("backup retired", "item", item, "backup", r.BackupName)
		if e.mirror == nil {
			return nil
		}
		subdir := mirrorDir(t, item)
		for _, name := range []string{r.BackupName, record.SidecarName(r.BackupName)} {
			if err := e.mirror.Delete(ctx, subdir, name); err != nil {
				e.logger.Warn("failed to delete mirror copy", "item", item, "name", name, "error", err)
			}
		}
		return nil
	}))
	return report, nil
}
