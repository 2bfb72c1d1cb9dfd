package record

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the timestamp embedded in artifact filenames.
const TimestampLayout = "20060102_150405"

// Artifact extensions, longest first so ".sql.gz" wins over ".sql".
const (
	ExtTarGz  = ".tar.gz"
	ExtSQLGz  = ".sql.gz"
	ExtSQL    = ".sql"
	ExtBundle = ".bundle"
)

var extensions = []string{ExtTarGz, ExtSQLGz, ExtBundle, ExtSQL}

// ErrInvalidName is returned for identifiers or filenames that fail validation.
var ErrInvalidName = errors.New("invalid name")

var (
	identifierRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	artifactRE   = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})(?:_(full|incr))?(\.tar\.gz|\.sql\.gz|\.sql|\.bundle)$`)
)

// ValidateIdentifier checks that an item name is safe to pass to external tools.
func ValidateIdentifier(name string) error {
	if !identifierRE.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q: only letters, digits, '_', '-' and '.' are allowed", ErrInvalidName, name)
	}
	return nil
}

// ValidateBackupName checks that a backup filename is a plain basename.
func ValidateBackupName(name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: backup filename %q must be a plain filename", ErrInvalidName, name)
	}
	return nil
}

// Ext returns the artifact extension of name, or "" if it is not an artifact.
func Ext(name string) string {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return ext
		}
	}
	return ""
}

// SidecarName returns the metadata filename for an artifact.
func SidecarName(backupName string) string {
	if ext := Ext(backupName); ext != "" {
		return strings.TrimSuffix(backupName, ext) + ".json"
	}
	return strings.TrimSuffix(backupName, filepath.Ext(backupName)) + ".json"
}

// LatestLink returns the name of the "latest" symlink for an artifact extension.
func LatestLink(ext string) string { return "latest" + ext }

// LatestCompleteLink is the symlink to an item's complete backup.
const LatestCompleteLink = "latest_complete" + ExtTarGz

// CompleteName returns the fixed filename of an item's complete backup.
func CompleteName(item string) string { return item + "_complete" + ExtTarGz }

// FormatName builds the artifact filename for a backup taken at ts.
func FormatName(item string, ts time.Time, kind Kind, compressed bool) string {
	stamp := ts.Format(TimestampLayout)
	switch kind {
	case KindFull:
		return fmt.Sprintf("%s_%s_full%s", item, stamp, ExtTarGz)
	case KindIncremental:
		return fmt.Sprintf("%s_%s_incr%s", item, stamp, ExtTarGz)
	case KindComplete:
		return CompleteName(item)
	case KindDatabase:
		if compressed {
			return fmt.Sprintf("%s_%s%s", item, stamp, ExtSQLGz)
		}
		return fmt.Sprintf("%s_%s%s", item, stamp, ExtSQL)
	case KindGitBundle:
		return fmt.Sprintf("%s_%s%s", item, stamp, ExtBundle)
	}
	return fmt.Sprintf("%s_%s%s", item, stamp, ExtTarGz)
}

// ParsedName is the information recoverable from an artifact filename.
type ParsedName struct {
	Item      string
	Timestamp time.Time
	Kind      Kind
	Ext       string
}

// ParseName extracts item, timestamp and kind from an artifact filename.
// Timestamps are interpreted in loc.
func ParseName(name string, loc *time.Location) (ParsedName, bool) {
	if strings.HasSuffix(name, "_complete"+ExtTarGz) {
		return ParsedName{Item: strings.TrimSuffix(name, "_complete"+ExtTarGz), Kind: KindComplete, Ext: ExtTarGz}, true
	}
	m := artifactRE.FindStringSubmatch(name)
	if m == nil {
		return ParsedName{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[2], loc)
	if err != nil {
		return ParsedName{}, false
	}
	p := ParsedName{Item: m[1], Timestamp: ts, Ext: m[4]}
	switch {
	case m[3] == "full":
		p.Kind = KindFull
	case m[3] == "incr":
		p.Kind = KindIncremental
	case p.Ext == ExtBundle:
		p.Kind = KindGitBundle
	case p.Ext == ExtSQL || p.Ext == ExtSQLGz:
		p.Kind = KindDatabase
	default:
		p.Kind = KindFull
	}
	return p, true
}
