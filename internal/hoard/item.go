package hoard

import (
	"time"

	"hoard-go/internal/retention"
)

// Project is a directory tree to back up. A project whose path is a git work
// tree can also be backed up as a git bundle.
type Project struct {
	Name    string
	Path    string
	Exclude []string
	// RetentionDays bounds how long uncategorized backups are kept.
	RetentionDays int
	Enabled       bool
	Databases     []string
}

// Database is a MySQL database reachable with the given credentials.
type Database struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	Options  []string
	Compress bool

	RetentionDays int
	Enabled       bool
}

// policyFor bounds the archive floor of base by an item horizon in days.
func policyFor(base retention.Policy, retentionDays int) retention.Policy {
	p := base
	if retentionDays > 0 {
		p.MaxArchiveAge = time.Duration(retentionDays) * 24 * time.Hour
	}
	return p
}
