package retention

import (
	"fmt"

	"hoard-go/internal/record"
)

// Deleter removes one backup and its sidecar.
type Deleter interface {
	Delete(r *record.Record) error
}

// LocalDeleter removes artifacts from the local store.
type LocalDeleter struct{}

func (LocalDeleter) Delete(r *record.Record) error {
	if r.Path == "" {
		return fmt.Errorf("record %s has no path", r.BackupName)
	}
	return record.Remove(r.Path)
}

var _ Deleter = LocalDeleter{}

// DeleterFunc adapts a function to Deleter.
type DeleterFunc func(r *record.Record) error

func (f DeleterFunc) Delete(r *record.Record) error { return f(r) }

// Report summarizes an Apply run.
type Report struct {
	DryRun         bool
	Kept           int
	Deleted        []string
	BytesRecovered int64
	Errors         []error
}

// Apply deletes every record in res.Delete. In dry-run mode nothing is
// removed and the report lists what would have been. A failed deletion is
// recorded and the rest continue.
func Apply(res *Result, dryRun bool, d Deleter) *Report {
	rep := &Report{DryRun: dryRun, Kept: len(res.Keep)}
	for _, r := range res.Delete {
		if r.KeepForever || r.Pinned {
			continue
		}
		if !dryRun {
			if err := d.Delete(r); err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("deleting %s: %w", r.BackupName, err))
				continue
			}
		}
		rep.Deleted = append(rep.Deleted, r.BackupName)
		rep.BytesRecovered += r.SizeBytes
	}
	return rep
}
