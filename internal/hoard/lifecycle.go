package hoard

import (
	"context"
	"errors"
	"fmt"

	"hoard-go/internal/record"
	"hoard-go/internal/retention"
)

// ListBackups returns every backup of an item, newest first.
func (e *Engine) ListBackups(t record.ItemType, item string) ([]*record.Record, error) {
	if err := e.checkItem("list", t, item); err != nil {
		return nil, err
	}
	records, err := record.Scan(t, e.ItemDir(t, item))
	if err != nil {
		return nil, NewError(ErrIO, "list", item, err)
	}
	for _, r := range records {
		if r.ItemName == "" {
			r.ItemName = item
		}
	}
	return records, nil
}

func (e *Engine) plan(t record.ItemType, item string) (*retention.Result, error) {
	records, err := e.ListBackups(t, item)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.MetadataErr != nil {
			e.logger.Warn("keeping backup with unreadable metadata", "item", item, "backup", r.BackupName, "error", r.MetadataErr)
		}
	}
	return retention.Plan(records, e.itemPolicy(t, item), e.clock.Now()), nil
}

// PlanRetention returns which backups of an item retention would keep and
// delete, without changing anything.
func (e *Engine) PlanRetention(t record.ItemType, item string) (*retention.Result, error) {
	return e.plan(t, item)
}

// ApplyRetention deletes the backups of an item that fall outside the
// retention policy, locally and on the mirror. With dryRun nothing is removed.
func (e *Engine) ApplyRetention(ctx context.Context, t record.ItemType, item string, dryRun bool) (rep *retention.Report, err error) {
	op := "retention"
	if err := e.checkItem(op, t, item); err != nil {
		return nil, err
	}
	params := ""
	if dryRun {
		params = "dry-run"
	}
	done := e.track(op, t, item, params)
	defer func() {
		msg := ""
		if rep != nil {
			msg = fmt.Sprintf("%d deleted, %s recovered", len(rep.Deleted), formatBytes(rep.BytesRecovered))
			if len(rep.Errors) > 0 && err == nil {
				err = NewError(ErrIO, op, item, errors.Join(rep.Errors...))
			}
		}
		done(err, msg)
	}()

	unlock, err := e.lock(op, t, item)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.retire(ctx, t, item, dryRun)
}

// SuggestRetention proposes a tier set for an item from how often it has
// been backed up.
func (e *Engine) SuggestRetention(t record.ItemType, item string) (*retention.Suggestion, error) {
	records, err := e.ListBackups(t, item)
	if err != nil {
		return nil, err
	}
	s, err := retention.Suggest(records, e.clock.Now())
	if err != nil {
		if errors.Is(err, retention.ErrNoBackups) {
			return nil, NewError(ErrPrecondition, "suggest", item, err)
		}
		return nil, NewError(ErrIO, "suggest", item, err)
	}
	return s, nil
}

// ItemStatus summarizes the backups of one item.
type ItemStatus struct {
	Type         record.ItemType
	Item         string
	Count        int
	TotalSize    int64
	Protected    int
	Unverifiable int
	Latest       *record.Record
	// Distribution counts kept backups per tier.
	Distribution map[string]int
}

// Status reports backup count, size, latest backup and tier distribution of an item.
func (e *Engine) Status(t record.ItemType, item string) (*ItemStatus, error) {
	records, err := e.ListBackups(t, item)
	if err != nil {
		return nil, err
	}
	st := &ItemStatus{
		Type:         t,
		Item:         item,
		Count:        len(records),
		Distribution: retention.Distribution(records, e.itemPolicy(t, item), e.clock.Now()),
	}
	for _, r := range records {
		st.TotalSize += r.SizeBytes
		if r.Protected() {
			st.Protected++
		}
		if !r.Verifiable() {
			st.Unverifiable++
		}
		if st.Latest == nil && r.BackupType != record.KindComplete {
			st.Latest = r
		}
	}
	return st, nil
}
