// Package history keeps a SQLite log of engine operations.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"hoard-go/internal/history/migrations"
	"hoard-go/internal/hoard"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteHistory implements hoard.History using SQLite.
type SQLiteHistory struct {
	db    *sql.DB
	path  string
	clock hoard.Clock
}

// NewSQLiteHistory opens the database at path, applying any pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteHistory(path string, clock hoard.Clock) (*SQLiteHistory, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	if clock == nil {
		clock = hoard.RealClock{}
	}
	return &SQLiteHistory{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite database connection.
// An in-memory database is limited to one connection so every query sees
// the same database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (s *SQLiteHistory) Start(op hoard.Operation) (*hoard.Operation, error) {
	op.StartedAt = s.clock.Now()
	op.Status = hoard.StatusRunning
	res, err := s.db.Exec(
		`INSERT INTO operations (operation, item_type, item_name, parameters, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.Operation, op.ItemType, op.ItemName, op.Parameters, op.Status, op.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	op.ID = id
	return &op, nil
}

func (s *SQLiteHistory) Finish(id int64, status, message string) error {
	res, err := s.db.Exec(
		`UPDATE operations SET status = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, message, s.clock.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

func (s *SQLiteHistory) List(itemName string, limit int) ([]*hoard.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, operation, item_type, item_name, parameters, status, message, started_at, finished_at
		 FROM operations
		 WHERE ? = '' OR item_name = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		itemName, itemName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*hoard.Operation
	for rows.Next() {
		var op hoard.Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.ItemType, &op.ItemName, &op.Parameters,
			&op.Status, &op.Message, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteHistory) Path() string {
	return s.path
}

// SchemaStatus reports the schema version of the database.
func (s *SQLiteHistory) SchemaStatus() (migrations.Status, error) {
	return migrations.Inspect(s.db)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteHistory) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up history database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteHistory) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteHistory implements hoard.History interface
var _ hoard.History = (*SQLiteHistory)(nil)
