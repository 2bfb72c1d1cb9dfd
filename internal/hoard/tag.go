package hoard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"hoard-go/internal/record"
)

// TagRequest changes the retention metadata of one backup. Nil fields are
// left as they are.
type TagRequest struct {
	Type        record.ItemType
	Item        string
	Backup      string
	Tags        []string
	Description *string
	Importance  string
	KeepForever *bool
	Pinned      *bool
}

// Tag merges tags and retention flags into a backup's sidecar. Setting
// keep_forever also pins the backup.
func (e *Engine) Tag(ctx context.Context, req TagRequest) (r *record.Record, err error) {
	op := "tag"
	if req.Backup == "" {
		return nil, Errorf(ErrValidation, op, req.Item, "backup filename is required")
	}
	var importance record.Importance
	if req.Importance != "" {
		if importance, err = record.ParseImportance(req.Importance); err != nil {
			return nil, NewError(ErrValidation, op, req.Item, err)
		}
	}
	for _, t := range req.Tags {
		if strings.TrimSpace(t) == "" || strings.ContainsAny(t, ",\n") {
			return nil, Errorf(ErrValidation, op, req.Item, "invalid tag %q", t)
		}
	}

	done := e.track(op, req.Type, req.Item, strings.Join(req.Tags, ","))
	defer func() {
		msg := ""
		if r != nil {
			msg = r.BackupName
		}
		done(err, msg)
	}()

	if err := e.checkItem(op, req.Type, req.Item); err != nil {
		return nil, err
	}
	if err := record.ValidateBackupName(req.Backup); err != nil {
		return nil, NewError(ErrValidation, op, req.Item, err)
	}
	unlock, err := e.lock(op, req.Type, req.Item)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := filepath.Join(e.ItemDir(req.Type, req.Item), req.Backup)
	if _, err := os.Stat(path); err != nil {
		return nil, Errorf(ErrPrecondition, op, req.Item, "backup %s not found", req.Backup)
	}
	r, err = record.Load(path)
	if err != nil {
		if errors.Is(err, record.ErrNoSidecar) {
			return nil, Errorf(ErrPrecondition, op, req.Item, "%s has no metadata; run backfill first", req.Backup)
		}
		return nil, NewError(ErrIO, op, req.Item, err)
	}

	r.AddTags(req.Tags...)
	if req.Description != nil {
		r.Description = *req.Description
	}
	if importance != "" {
		r.Importance = importance
	}
	if req.Pinned != nil {
		r.Pinned = *req.Pinned
	}
	if req.KeepForever != nil {
		r.KeepForever = *req.KeepForever
		if r.KeepForever {
			r.Pinned = true
		}
	}
	now := e.clock.Now()
	r.LastModified = &now

	if err := record.Save(r); err != nil {
		return nil, NewError(ErrIO, op, req.Item, err)
	}
	e.logger.Info("backup tagged", "backup", r.BackupName, "tags", strings.Join(r.Tags, ","),
		"importance", string(r.Importance), "keep_forever", r.KeepForever)

	if e.mirror != nil {
		if _, err := e.mirror.Sync(ctx, mirrorDir(req.Type, req.Item), record.SidecarPath(r.Path)); err != nil {
			e.logger.Warn("failed to copy metadata to mirror", "backup", r.BackupName, "error", err)
		}
	}
	return r, nil
}

// TagFilter narrows ListTagged. Zero fields match everything.
type TagFilter struct {
	Type record.ItemType
	Item string
	Tag  string
}

// ListTagged returns every protected backup in the store matching filter,
// newest first.
func (e *Engine) ListTagged(filter TagFilter) ([]*record.Record, error) {
	types := []record.ItemType{record.ItemProject, record.ItemDatabase, record.ItemGit}
	if filter.Type != "" {
		types = []record.ItemType{filter.Type}
	}
	var out []*record.Record
	for _, t := range types {
		items, err := e.storedItems(t)
		if err != nil {
			return nil, NewError(ErrIO, "list", filter.Item, err)
		}
		for _, item := range items {
			if filter.Item != "" && item != filter.Item {
				continue
			}
			records, err := record.Scan(t, e.ItemDir(t, item))
			if err != nil {
				return nil, NewError(ErrIO, "list", item, err)
			}
			for _, r := range records {
				if !r.Protected() {
					continue
				}
				if filter.Tag != "" && !slices.Contains(r.Tags, filter.Tag) {
					continue
				}
				out = append(out, withItem(r, item))
			}
		}
	}
	record.SortNewestFirst(out)
	return out, nil
}

// storedItems lists the item directories present in the store for a type.
func (e *Engine) storedItems(t record.ItemType) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(e.root, t.Subdir()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []string
	for _, ent := range entries {
		if ent.IsDir() && record.ValidateIdentifier(ent.Name()) == nil {
			items = append(items, ent.Name())
		}
	}
	return items, nil
}
