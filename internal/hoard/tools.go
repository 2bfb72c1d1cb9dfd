package hoard

import (
	"context"
	"io"
)

// DatabaseDumper drives the database client tools.
type DatabaseDumper interface {
	// Dump writes a logical dump of db to w.
	Dump(ctx context.Context, db Database, w io.Writer) error

	// Restore feeds the dump read from r into db.
	Restore(ctx context.Context, db Database, r io.Reader) error
}

// GitInfo describes the state of a work tree at backup time.
type GitInfo struct {
	Branch        string
	Commit        string
	CommitMessage string
	Dirty         bool
}

// GitTool drives the git binary.
type GitTool interface {
	// IsWorkTree reports whether dir is inside a git work tree.
	IsWorkTree(ctx context.Context, dir string) bool

	// Info returns branch, head commit and dirty state of repo.
	Info(ctx context.Context, repo string) (GitInfo, error)

	// Bundle writes a bundle of all refs of repo to dest.
	Bundle(ctx context.Context, repo, dest string) error

	// VerifyBundle checks that bundle applies to the repository in dir.
	VerifyBundle(ctx context.Context, dir, bundle string) error

	// Clone creates target from bundle.
	Clone(ctx context.Context, bundle, target string) error

	// Fetch updates the repository at target from bundle.
	Fetch(ctx context.Context, bundle, target string) error
}
