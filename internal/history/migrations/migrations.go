package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Status describes the schema of a history database against the
// migrations compiled into this binary.
type Status struct {
	Current uint
	Latest  uint
	// Versioned is false for a database that was never migrated.
	Versioned bool
	Dirty     bool
}

// Err returns nil when the schema is usable and a description of the
// mismatch otherwise.
func (s Status) Err() error {
	switch {
	case !s.Versioned:
		return fmt.Errorf("history database has no schema version (needs migration)")
	case s.Dirty:
		return fmt.Errorf("history database is dirty at version %d", s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("history database is at version %d but latest is %d (%d migrations behind)",
			s.Current, s.Latest, s.Latest-s.Current)
	case s.Current > s.Latest:
		return fmt.Errorf("history database version %d is ahead of binary version %d", s.Current, s.Latest)
	}
	return nil
}

// Inspect reads the schema version of db.
func Inspect(db *sql.DB) (Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close the caller's connection.

	st := Status{Latest: latest}
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return st, nil
		}
		return Status{}, fmt.Errorf("failed to get database version: %w", err)
	}
	st.Current, st.Dirty, st.Versioned = version, dirty, true
	return st, nil
}

// CheckStatus returns nil when the history schema is at the latest version
// and an error describing the mismatch otherwise.
func CheckStatus(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// LatestVersion returns the newest migration embedded in the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()
	v, err := getLatestVersion(src)
	if err != nil {
		return 0, fmt.Errorf("failed to determine latest version: %w", err)
	}
	return v, nil
}

// MigrateUp applies all pending migrations.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// newMigrate builds a migrate instance over db and the embedded files.
func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}

// getLatestVersion returns the highest version in src.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latestVersion := version
	for {
		nextVersion, err := src.Next(latestVersion)
		if err != nil {
			break
		}
		latestVersion = nextVersion
	}

	return latestVersion, nil
}
