// Package retention decides which backups of an item survive over time.
//
// Planning is pure: Plan maps a record history and a Policy to keep and
// delete sets without touching the filesystem. Apply performs the deletions.
package retention

import (
	"fmt"
	"time"
)

// Tier names in precedence order.
const (
	Hourly        = "hourly"
	Daily         = "daily"
	Weekly        = "weekly"
	Monthly       = "monthly"
	Yearly        = "yearly"
	Uncategorized = "uncategorized"
)

// TierOrder is the order in which tiers claim records.
var TierOrder = []string{Hourly, Daily, Weekly, Monthly, Yearly}

// DefaultArchiveFloor is how many uncategorized records are kept as archive.
const DefaultArchiveFloor = 3

// Tier keeps the newest Keep records, one per period, no older than MaxAge periods.
type Tier struct {
	Name   string `toml:"name" yaml:"name"`
	Keep   int    `toml:"keep" yaml:"keep"`
	MaxAge int    `toml:"max_age" yaml:"max_age"`
}

// Unit returns the length of one period of the tier.
func (t Tier) Unit() time.Duration {
	switch t.Name {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	case Yearly:
		return 365 * 24 * time.Hour
	}
	return 0
}

// Window is the maximum age a record may have to be claimed by the tier.
func (t Tier) Window() time.Duration {
	return time.Duration(t.MaxAge) * t.Unit()
}

// Bucket returns the period key of ts for the tier: hour slot, calendar day,
// ISO week, calendar month or calendar year.
func (t Tier) Bucket(ts time.Time) string {
	switch t.Name {
	case Hourly:
		return ts.Format("2006-01-02T15")
	case Daily:
		return ts.Format("2006-01-02")
	case Weekly:
		y, w := ts.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case Monthly:
		return ts.Format("2006-01")
	default:
		return ts.Format("2006")
	}
}

// Validate checks the tier name and counts.
func (t Tier) Validate() error {
	if t.Unit() == 0 {
		return fmt.Errorf("unknown retention tier %q", t.Name)
	}
	if t.Keep < 0 || t.MaxAge < 0 {
		return fmt.Errorf("retention tier %s: keep and max_age must not be negative", t.Name)
	}
	return nil
}

// Policy is the full retention configuration for one item.
type Policy struct {
	Tiers []Tier
	// PreserveTagged keeps tagged and high-importance records regardless of
	// tier saturation. keep_forever and pinned records are always kept.
	PreserveTagged bool
	// ArchiveFloor is how many unprotected uncategorized records are kept.
	ArchiveFloor int
	// MaxArchiveAge, when positive, stops the archive floor from keeping
	// records older than this.
	MaxArchiveAge time.Duration
}

// DefaultTiers returns the standard tier set.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: Hourly, Keep: 24, MaxAge: 24},
		{Name: Daily, Keep: 7, MaxAge: 7},
		{Name: Weekly, Keep: 4, MaxAge: 4},
		{Name: Monthly, Keep: 12, MaxAge: 12},
		{Name: Yearly, Keep: 5, MaxAge: 5},
	}
}

// DefaultPolicy returns DefaultTiers with tagged records preserved.
func DefaultPolicy() Policy {
	return Policy{Tiers: DefaultTiers(), PreserveTagged: true, ArchiveFloor: DefaultArchiveFloor}
}

// Validate checks every tier and rejects duplicates.
func (p Policy) Validate() error {
	seen := make(map[string]bool)
	for _, t := range p.Tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("retention tier %s configured twice", t.Name)
		}
		seen[t.Name] = true
	}
	if p.ArchiveFloor < 0 {
		return fmt.Errorf("archive floor must not be negative")
	}
	return nil
}

// ordered returns the configured tiers in precedence order.
func (p Policy) ordered() []Tier {
	byName := make(map[string]Tier, len(p.Tiers))
	for _, t := range p.Tiers {
		byName[t.Name] = t
	}
	var out []Tier
	for _, name := range TierOrder {
		if t, ok := byName[name]; ok {
			out = append(out, t)
		}
	}
	return out
}
