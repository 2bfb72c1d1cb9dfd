package hoard

import "context"

// Mirror is a secondary copy of the backup store. Artifacts are addressed by
// the store subdirectory they live in (e.g. "projects/app") and their name.
type Mirror interface {
	// Sync copies localPath to <subdir>/<basename> unless an identical copy
	// already exists. It reports whether anything was transferred.
	Sync(ctx context.Context, subdir, localPath string) (bool, error)

	// Delete removes <subdir>/<name>. Deleting a missing object is not an error.
	Delete(ctx context.Context, subdir, name string) error

	// ValidateSetup checks that the mirror is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
