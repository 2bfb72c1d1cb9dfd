package retention

import (
	"time"

	"hoard-go/internal/record"
)

// Decision explains what happens to one record.
type Decision struct {
	Record *record.Record
	Tier   string
	Keep   bool
	Reason string
}

// Result is the outcome of planning. Keep and Delete are newest first and
// together hold every managed record exactly once.
type Result struct {
	Keep      []*record.Record
	Delete    []*record.Record
	Decisions []Decision
	// Tiers maps tier name (or Uncategorized) to the records it claimed.
	Tiers map[string][]*record.Record
}

// BytesToRecover sums the sizes of the delete set.
func (r *Result) BytesToRecover() int64 {
	var n int64
	for _, rec := range r.Delete {
		n += rec.SizeBytes
	}
	return n
}

// Kept reports the number of kept records claimed by tier.
func (r *Result) Kept(tier string) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Keep && d.Tier == tier {
			n++
		}
	}
	return n
}

// Plan assigns records to tiers and splits them into keep and delete sets.
// Complete backups are not managed by retention and are left out of both.
func Plan(records []*record.Record, p Policy, now time.Time) *Result {
	managed := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r.BackupType != record.KindComplete {
			managed = append(managed, r)
		}
	}
	record.SortNewestFirst(managed)

	res := &Result{Tiers: make(map[string][]*record.Record)}
	assigned := make(map[*record.Record]string, len(managed))

	for _, tier := range p.ordered() {
		occupied := make(map[string]bool)
		window := tier.Window()
		for _, r := range managed {
			if _, ok := assigned[r]; ok {
				continue
			}
			if now.Sub(r.Timestamp) > window {
				continue
			}
			key := tier.Bucket(r.Timestamp)
			if occupied[key] {
				continue
			}
			occupied[key] = true
			assigned[r] = tier.Name
			res.Tiers[tier.Name] = append(res.Tiers[tier.Name], r)
		}
	}

	keptInTier := make(map[string]int)
	floorKept := 0
	decisions := make([]Decision, 0, len(managed))
	for _, r := range managed {
		tier, ok := assigned[r]
		if !ok {
			tier = Uncategorized
			res.Tiers[Uncategorized] = append(res.Tiers[Uncategorized], r)
		}

		d := Decision{Record: r, Tier: tier}
		switch {
		case r.KeepForever || r.Pinned:
			d.Keep, d.Reason = true, "pinned"
		case r.MetadataErr != nil:
			d.Keep, d.Reason = true, "unreadable metadata"
		case p.PreserveTagged && r.Protected():
			d.Keep, d.Reason = true, "tagged"
		case tier != Uncategorized && keptInTier[tier] < keepCount(p, tier):
			d.Keep, d.Reason = true, "within "+tier+" keep count"
		case tier != Uncategorized:
			d.Reason = "exceeds " + tier + " keep count"
		case floorKept < p.ArchiveFloor && (p.MaxArchiveAge <= 0 || now.Sub(r.Timestamp) <= p.MaxArchiveAge):
			d.Keep, d.Reason = true, "archive floor"
			floorKept++
		default:
			d.Reason = "beyond archive floor"
		}
		if d.Keep && tier != Uncategorized && d.Reason != "pinned" && d.Reason != "tagged" {
			keptInTier[tier]++
		}
		decisions = append(decisions, d)
	}

	keepChains(decisions)
	for _, d := range decisions {
		res.Decisions = append(res.Decisions, d)
		if d.Keep {
			res.Keep = append(res.Keep, d.Record)
		} else {
			res.Delete = append(res.Delete, d.Record)
		}
	}
	return res
}

// keepChains keeps every backup a kept incremental needs to be restored:
// its base and each older incremental on the same base. decisions must be
// newest first.
func keepChains(decisions []Decision) {
	for i, d := range decisions {
		r := d.Record
		if !d.Keep || r.BackupType != record.KindIncremental || r.BaseBackup == "" {
			continue
		}
		for j := i + 1; j < len(decisions); j++ {
			dep := decisions[j].Record
			needed := dep.BackupName == r.BaseBackup ||
				(dep.BackupType == record.KindIncremental && dep.BaseBackup == r.BaseBackup)
			if needed && !decisions[j].Keep {
				decisions[j].Keep = true
				decisions[j].Reason = "required by " + r.BackupName
			}
		}
	}
}

func keepCount(p Policy, tier string) int {
	for _, t := range p.Tiers {
		if t.Name == tier {
			return t.Keep
		}
	}
	return 0
}
