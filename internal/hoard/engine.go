// Package hoard is the backup engine. It creates, restores, verifies and
// retires backups of projects, MySQL databases and git repositories in a
// local store, optionally copying every artifact to a secondary mirror.
package hoard

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	hfs "hoard-go/internal/fs"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
)

const (
	// projectCompressionFactor estimates the tar.gz size of a source tree.
	projectCompressionFactor = 0.7
	// spaceSafetyMargin is applied on top of every space estimate.
	spaceSafetyMargin = 1.2
	// databaseSpaceMargin is applied to the configured database minimum.
	databaseSpaceMargin = 1.1

	DefaultMinDatabaseSpaceMB = 1024
	DefaultBatchWidth         = 4
)

// Settings holds the engine's configuration, already validated and resolved.
type Settings struct {
	// Root is the local store. Items live in <Root>/<type subdir>/<item>.
	Root      string
	Projects  []Project
	Databases []Database
	Policy    retention.Policy
	// GlobalExclude is merged into every project's exclusion patterns.
	GlobalExclude []string
	// CompletePatterns are the only exclusions of complete backups.
	CompletePatterns   []string
	MinDatabaseSpaceMB int
	BatchWidth         int
}

// Deps are the collaborators of an Engine. Mirror, Secrets and History are
// optional.
type Deps struct {
	Dumper  DatabaseDumper
	Git     GitTool
	Space   SpaceChecker
	Locker  Locker
	Mirror  Mirror
	Secrets SecretBox
	History History
	Logger  Logger
	Clock   Clock
}

// Engine runs backup operations against the local store.
type Engine struct {
	root      string
	projects  map[string]Project
	databases map[string]Database
	policy    retention.Policy

	globalExclude    []string
	completePatterns []string
	minDBSpaceMB     int
	width            int

	dumper  DatabaseDumper
	git     GitTool
	space   SpaceChecker
	locker  Locker
	mirror  Mirror
	secrets SecretBox
	history History
	logger  Logger
	clock   Clock
}

// NewEngine creates an Engine. Missing logger, clock and locker fall back to
// NopLogger, RealClock and NopLocker.
func NewEngine(s Settings, d Deps) *Engine {
	e := &Engine{
		root:             s.Root,
		projects:         make(map[string]Project, len(s.Projects)),
		databases:        make(map[string]Database, len(s.Databases)),
		policy:           s.Policy,
		globalExclude:    s.GlobalExclude,
		completePatterns: s.CompletePatterns,
		minDBSpaceMB:     s.MinDatabaseSpaceMB,
		width:            s.BatchWidth,
		dumper:           d.Dumper,
		git:              d.Git,
		space:            d.Space,
		locker:           d.Locker,
		mirror:           d.Mirror,
		secrets:          d.Secrets,
		history:          d.History,
		logger:           d.Logger,
		clock:            d.Clock,
	}
	for _, p := range s.Projects {
		e.projects[p.Name] = p
	}
	for _, db := range s.Databases {
		e.databases[db.Name] = db
	}
	if len(e.policy.Tiers) == 0 {
		e.policy = retention.DefaultPolicy()
	}
	if e.minDBSpaceMB <= 0 {
		e.minDBSpaceMB = DefaultMinDatabaseSpaceMB
	}
	if e.width <= 0 {
		e.width = DefaultBatchWidth
	}
	if e.logger == nil {
		e.logger = NewNopLogger()
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.locker == nil {
		e.locker = NopLocker{}
	}
	return e
}

// Root returns the local store directory.
func (e *Engine) Root() string { return e.root }

// Projects returns the configured projects sorted by name.
func (e *Engine) Projects() []Project {
	out := make([]Project, 0, len(e.projects))
	for _, p := range e.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Databases returns the configured databases sorted by name.
func (e *Engine) Databases() []Database {
	out := make([]Database, 0, len(e.databases))
	for _, db := range e.databases {
		out = append(out, db)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ItemDir returns the store directory of an item.
func (e *Engine) ItemDir(t record.ItemType, item string) string {
	return filepath.Join(e.root, t.Subdir(), item)
}

func mirrorDir(t record.ItemType, item string) string {
	return path.Join(t.Subdir(), item)
}

func (e *Engine) project(op, name string) (Project, error) {
	if err := record.ValidateIdentifier(name); err != nil {
		return Project{}, NewError(ErrValidation, op, name, err)
	}
	p, ok := e.projects[name]
	if !ok {
		return Project{}, Errorf(ErrConfiguration, op, name, "project %s is not configured", name)
	}
	if !p.Enabled {
		return Project{}, Errorf(ErrConfiguration, op, name, "project %s is disabled", name)
	}
	return p, nil
}

func (e *Engine) database(op, name string) (Database, error) {
	if err := record.ValidateIdentifier(name); err != nil {
		return Database{}, NewError(ErrValidation, op, name, err)
	}
	db, ok := e.databases[name]
	if !ok {
		return Database{}, Errorf(ErrConfiguration, op, name, "database %s is not configured", name)
	}
	if !db.Enabled {
		return Database{}, Errorf(ErrConfiguration, op, name, "database %s is disabled", name)
	}
	return db, nil
}

// checkItem validates an item of any type without requiring it to be enabled.
func (e *Engine) checkItem(op string, t record.ItemType, name string) error {
	if err := record.ValidateIdentifier(name); err != nil {
		return NewError(ErrValidation, op, name, err)
	}
	switch t {
	case record.ItemProject, record.ItemGit:
		if _, ok := e.projects[name]; ok {
			return nil
		}
	case record.ItemDatabase:
		if _, ok := e.databases[name]; ok {
			return nil
		}
	default:
		return Errorf(ErrValidation, op, name, "invalid item type %q", t)
	}
	// Items removed from the config can still have backups on disk.
	if info, err := os.Stat(e.ItemDir(t, name)); err == nil && info.IsDir() {
		return nil
	}
	return Errorf(ErrConfiguration, op, name, "%s %s is not configured", t, name)
}

// itemPolicy returns the retention policy bounded by the item's horizon.
func (e *Engine) itemPolicy(t record.ItemType, name string) retention.Policy {
	switch t {
	case record.ItemDatabase:
		return policyFor(e.policy, e.databases[name].RetentionDays)
	default:
		return policyFor(e.policy, e.projects[name].RetentionDays)
	}
}

// lock takes the item's advisory lock, creating its directory first.
func (e *Engine) lock(op string, t record.ItemType, item string) (func(), error) {
	dir := e.ItemDir(t, item)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, NewError(ErrIO, op, item, fmt.Errorf("creating item directory: %w", err))
	}
	unlock, err := e.locker.Lock(dir)
	if err != nil {
		if errors.Is(err, hfs.ErrLocked) {
			return nil, Errorf(ErrPrecondition, op, item, "%s %s is busy: %v", t, item, err)
		}
		return nil, NewError(ErrPrecondition, op, item, err)
	}
	return func() {
		if err := unlock(); err != nil {
			e.logger.Warn("failed to release item lock", "item", item, "error", err)
		}
	}, nil
}

// checkSpace fails with ErrPrecondition when fewer than required bytes are
// free at dir.
func (e *Engine) checkSpace(op, item, dir string, required int64) error {
	if e.space == nil || required <= 0 {
		return nil
	}
	avail, err := e.space.Available(dir)
	if err != nil {
		e.logger.Warn("could not determine free space", "dir", dir, "error", err)
		return nil
	}
	if avail < uint64(required) {
		return Errorf(ErrPrecondition, op, item, "insufficient disk space: %s required, %s available",
			formatBytes(required), formatBytes(int64(avail)))
	}
	return nil
}

// track records an operation in the history log and returns the function
// that closes it. Failures to write history are logged and ignored.
func (e *Engine) track(op string, t record.ItemType, item, params string) func(err error, message string) {
	if e.history == nil {
		return func(error, string) {}
	}
	started, err := e.history.Start(Operation{
		Operation:  op,
		ItemType:   string(t),
		ItemName:   item,
		Parameters: params,
		Status:     StatusRunning,
	})
	if err != nil {
		e.logger.Warn("failed to record operation start", "operation", op, "error", err)
		return func(error, string) {}
	}
	return func(opErr error, message string) {
		status := StatusSuccess
		if opErr != nil {
			status = StatusError
			message = opErr.Error()
		}
		if err := e.history.Finish(started.ID, status, message); err != nil {
			e.logger.Warn("failed to record operation finish", "operation", op, "error", err)
		}
	}
}

// wrap attaches kind to err unless err already carries one.
func wrap(kind error, op, item string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return err
	}
	return NewError(kind, op, item, err)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
