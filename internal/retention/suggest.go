package retention

import (
	"errors"
	"time"

	"hoard-go/internal/record"
)

// ErrNoBackups is returned when there is no history to base a suggestion on.
var ErrNoBackups = errors.New("no backups found")

// Suggestion is a tier set derived from observed backup frequency, along
// with a simulation of what applying it would leave behind.
type Suggestion struct {
	MeanInterval time.Duration
	Tiers        []Tier
	CurrentCount int
	CurrentSize  int64
	AfterCount   int
	AfterSize    int64
}

// MeanInterval is the average gap between consecutive records. With fewer
// than two records it is one day.
func MeanInterval(records []*record.Record) time.Duration {
	if len(records) < 2 {
		return 24 * time.Hour
	}
	sorted := append([]*record.Record(nil), records...)
	record.SortNewestFirst(sorted)
	var total time.Duration
	for i := 1; i < len(sorted); i++ {
		total += sorted[i-1].Timestamp.Sub(sorted[i].Timestamp)
	}
	return total / time.Duration(len(sorted)-1)
}

// PresetFor returns the tier set matching a backup cadence.
func PresetFor(interval time.Duration) []Tier {
	switch {
	case interval <= time.Hour:
		return []Tier{
			{Name: Hourly, Keep: 48, MaxAge: 48},
			{Name: Daily, Keep: 14, MaxAge: 14},
			{Name: Weekly, Keep: 8, MaxAge: 8},
			{Name: Monthly, Keep: 12, MaxAge: 12},
		}
	case interval <= 24*time.Hour:
		return []Tier{
			{Name: Daily, Keep: 30, MaxAge: 30},
			{Name: Weekly, Keep: 12, MaxAge: 12},
			{Name: Monthly, Keep: 24, MaxAge: 24},
		}
	default:
		return []Tier{
			{Name: Weekly, Keep: 12, MaxAge: 12},
			{Name: Monthly, Keep: 36, MaxAge: 36},
		}
	}
}

// Suggest proposes tiers for an item's history and simulates the result
// with tagged backups preserved. Complete backups are ignored.
func Suggest(records []*record.Record, now time.Time) (*Suggestion, error) {
	managed := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r.BackupType != record.KindComplete {
			managed = append(managed, r)
		}
	}
	if len(managed) == 0 {
		return nil, ErrNoBackups
	}
	s := &Suggestion{MeanInterval: MeanInterval(managed)}
	s.Tiers = PresetFor(s.MeanInterval)

	res := Plan(managed, Policy{Tiers: s.Tiers, PreserveTagged: true, ArchiveFloor: DefaultArchiveFloor}, now)
	for _, r := range managed {
		s.CurrentCount++
		s.CurrentSize += r.SizeBytes
	}
	s.AfterCount = len(res.Keep)
	for _, r := range res.Keep {
		s.AfterSize += r.SizeBytes
	}
	return s, nil
}

// Distribution counts records per tier under p, for status reporting.
func Distribution(records []*record.Record, p Policy, now time.Time) map[string]int {
	res := Plan(records, p, now)
	out := make(map[string]int, len(res.Tiers))
	for name, rs := range res.Tiers {
		out[name] = len(rs)
	}
	return out
}
