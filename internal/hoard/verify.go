package hoard

import (
	"errors"
	"fmt"

	"hoard-go/internal/checksum"
	"hoard-go/internal/record"
)

// VerifyResult is the checksum outcome of one backup.
type VerifyResult struct {
	Backup string
	checksum.Result
}

// Verify recomputes the checksum of one backup and compares it with the
// recorded digest. A corrupted backup is reported in the result, not as an
// error.
func (e *Engine) Verify(t record.ItemType, item, backup string) (*VerifyResult, error) {
	op := "verify"
	r, err := e.resolve(op, t, item, backup)
	if err != nil {
		return nil, err
	}
	res, err := checksum.Verify(r.Path, r.Checksum)
	if err != nil {
		return nil, NewError(ErrIO, op, item, err)
	}
	if res.Outcome == checksum.Corrupted {
		e.logger.Error("backup failed verification", "backup", r.BackupName, "expected", res.Expected, "actual", res.Actual)
	}
	return &VerifyResult{Backup: r.BackupName, Result: res}, nil
}

// VerifyAll verifies every backup of an item, newest first.
func (e *Engine) VerifyAll(t record.ItemType, item string) (results []VerifyResult, err error) {
	op := "verify"
	done := e.track(op, t, item, "all")
	defer func() {
		done(err, summarizeVerify(results))
	}()

	records, err := e.ListBackups(t, item)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		res, err := checksum.Verify(r.Path, r.Checksum)
		if err != nil {
			return results, NewError(ErrIO, op, item, err)
		}
		results = append(results, VerifyResult{Backup: r.BackupName, Result: res})
	}
	var bad []string
	for _, v := range results {
		if v.Outcome == checksum.Corrupted {
			bad = append(bad, v.Backup)
		}
	}
	if len(bad) > 0 {
		return results, Errorf(ErrIntegrity, op, item, "%d corrupted backups: %v", len(bad), bad)
	}
	return results, nil
}

func summarizeVerify(results []VerifyResult) string {
	counts := map[checksum.Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	return fmt.Sprintf("%d valid, %d corrupted, %d unverifiable",
		counts[checksum.Valid], counts[checksum.Corrupted], counts[checksum.Unverifiable])
}

// BackfillReport lists the sidecars changed by BackfillChecksums.
type BackfillReport struct {
	Updated []string // existing sidecars given a checksum
	Created []string // sidecars written for artifacts that had none
}

// BackfillChecksums adds a checksum to every sidecar of an item that lacks
// one and writes sidecars for artifacts that have none.
func (e *Engine) BackfillChecksums(t record.ItemType, item string) (rep *BackfillReport, err error) {
	op := "backfill"
	if err := e.checkItem(op, t, item); err != nil {
		return nil, err
	}
	done := e.track(op, t, item, "")
	defer func() {
		msg := ""
		if rep != nil {
			msg = fmt.Sprintf("%d updated, %d created", len(rep.Updated), len(rep.Created))
		}
		done(err, msg)
	}()

	paths, err := record.Artifacts(e.ItemDir(t, item))
	if err != nil {
		return nil, NewError(ErrIO, op, item, err)
	}
	rep = &BackfillReport{}
	for _, p := range paths {
		r, loadErr := record.Load(p)
		created := false
		switch {
		case loadErr == nil && r.Checksum != "":
			continue
		case loadErr == nil:
		case errors.Is(loadErr, record.ErrNoSidecar):
			if r, err = record.Synthesize(t, p); err != nil {
				return rep, NewError(ErrIO, op, item, err)
			}
			created = true
		default:
			e.logger.Warn("skipping unreadable metadata", "artifact", p, "error", loadErr)
			continue
		}
		withItem(r, item)

		sum, err := checksum.Compute(p)
		if err != nil {
			return rep, NewError(ErrIO, op, item, err)
		}
		r.Checksum = sum
		now := e.clock.Now()
		r.LastModified = &now
		if err := record.Save(r); err != nil {
			return rep, NewError(ErrIO, op, item, err)
		}
		if created {
			rep.Created = append(rep.Created, r.BackupName)
		} else {
			rep.Updated = append(rep.Updated, r.BackupName)
		}
		e.logger.Info("checksum backfilled", "backup", r.BackupName, "created_metadata", created)
	}
	return rep, nil
}
