// Package record defines the metadata sidecar persisted next to every backup
// artifact and the filename grammar of the backup store.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

// ItemType is the kind of item an artifact belongs to.
type ItemType string

const (
	ItemProject  ItemType = "project"
	ItemDatabase ItemType = "database"
	ItemGit      ItemType = "git"
)

// Subdir returns the store subdirectory holding artifacts of this type.
func (t ItemType) Subdir() string {
	switch t {
	case ItemProject:
		return "projects"
	case ItemDatabase:
		return "databases"
	case ItemGit:
		return "git"
	}
	return ""
}

// ParseItemType validates s as an ItemType.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case ItemProject, ItemDatabase, ItemGit:
		return t, nil
	}
	return "", fmt.Errorf("invalid item type: %q", s)
}

// Kind is the backup_type of an artifact.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
	KindComplete    Kind = "complete"
	KindDatabase    Kind = "database"
	KindGitBundle   Kind = "git_bundle"
)

// Importance ranks a backup for retention.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceNormal   Importance = "normal"
	ImportanceLow      Importance = "low"
)

// ParseImportance validates s as an Importance.
func ParseImportance(s string) (Importance, error) {
	switch i := Importance(s); i {
	case ImportanceCritical, ImportanceHigh, ImportanceNormal, ImportanceLow:
		return i, nil
	}
	return "", fmt.Errorf("invalid importance level: %q", s)
}

// Record is the JSON sidecar stored as <stem>.json beside each artifact.
type Record struct {
	BackupName  string     `json:"backup_name"`
	ItemName    string     `json:"item_name"`
	ItemType    ItemType   `json:"item_type"`
	Description string     `json:"description,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	SizeBytes   int64      `json:"size_bytes"`
	SizeMB      float64    `json:"size_mb"`
	Checksum    string     `json:"checksum_sha256,omitempty"`
	Tags        []string   `json:"tags"`
	Importance  Importance `json:"importance"`
	KeepForever bool       `json:"keep_forever"`
	Pinned      bool       `json:"pinned"`
	BackupType  Kind       `json:"backup_type"`

	// incremental
	BaseBackup   string   `json:"base_backup,omitempty"`
	FilesAdded   int      `json:"files_added,omitempty"`
	FilesSkipped int      `json:"files_skipped,omitempty"`
	FilesDeleted []string `json:"files_deleted,omitempty"`

	// git
	Branch                string `json:"branch,omitempty"`
	Commit                string `json:"latest_commit_hash,omitempty"`
	CommitMessage         string `json:"latest_commit_message,omitempty"`
	HasUncommittedChanges bool   `json:"has_uncommitted_changes,omitempty"`

	// database
	Compressed bool `json:"compressed,omitempty"`

	CreatedBy    string     `json:"created_by,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`

	// Path is the artifact location on disk. Not persisted.
	Path string `json:"-"`
	// MetadataErr is set by Scan when the sidecar exists but cannot be read.
	MetadataErr error `json:"-"`
}

// New returns a record with the defaults every fresh backup starts from.
func New(itemType ItemType, itemName, backupName string, kind Kind, ts time.Time) *Record {
	return &Record{
		BackupName: backupName,
		ItemName:   itemName,
		ItemType:   itemType,
		Timestamp:  ts,
		Tags:       []string{},
		Importance: ImportanceNormal,
		BackupType: kind,
		CreatedBy:  "hoard",
	}
}

// SetSize records the artifact size in bytes and rounded MiB.
func (r *Record) SetSize(n int64) {
	r.SizeBytes = n
	r.SizeMB = math.Round(float64(n)/(1024*1024)*100) / 100
}

// Protected reports whether retention must never delete this backup.
func (r *Record) Protected() bool {
	if r.KeepForever || r.Pinned || len(r.Tags) > 0 {
		return true
	}
	return r.Importance == ImportanceCritical || r.Importance == ImportanceHigh
}

// Verifiable reports whether the record carries a checksum.
func (r *Record) Verifiable() bool { return r.Checksum != "" }

// AddTags merges tags into the record, keeping them sorted and unique.
func (r *Record) AddTags(tags ...string) {
	for _, t := range tags {
		if t != "" && !slices.Contains(r.Tags, t) {
			r.Tags = append(r.Tags, t)
		}
	}
	slices.Sort(r.Tags)
}

// legacyTimestampLayouts covers naive ISO-8601 timestamps written without an offset.
var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.Importance == "" {
		r.Importance = ImportanceNormal
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if aux.Timestamp == "" {
		return nil
	}
	ts, err := parseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
