package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hoard-go/internal/checksum"
	"hoard-go/internal/fs"
	"hoard-go/internal/hoard"
)

// FileSystemMirror copies artifacts into a parallel directory tree:
//
//	<root>/
//	  projects/<item>/<artifact>
//	  databases/<item>/<artifact>
//	  git/<item>/<artifact>
type FileSystemMirror struct {
	root string
}

// NewFileSystemMirror creates a mirror rooted at the given path.
func NewFileSystemMirror(root string) (*FileSystemMirror, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror root: %w", err)
	}
	return &FileSystemMirror{root: root}, nil
}

// Sync copies localPath into <root>/<subdir>/ unless the destination already
// has the same size and SHA-256. The copy goes through a temp file, so an
// interrupted transfer leaves nothing behind.
func (m *FileSystemMirror) Sync(ctx context.Context, subdir, localPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dest := filepath.Join(m.root, subdir, filepath.Base(localPath))

	same, err := identical(localPath, dest)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}

	if _, err := fs.WriteFileAtomic(dest, src, info.Size(), 0600); err != nil {
		return false, fmt.Errorf("copying to mirror: %w", err)
	}
	return true, nil
}

// identical compares size first and falls back to the checksum.
func identical(src, dest string) (bool, error) {
	di, err := os.Stat(dest)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat mirror copy: %w", err)
	}
	si, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", src, err)
	}
	if si.Size() != di.Size() {
		return false, nil
	}
	a, err := checksum.Compute(src)
	if err != nil {
		return false, err
	}
	b, err := checksum.Compute(dest)
	if err != nil {
		return false, err
	}
	return a == b, nil
}

// Delete removes <root>/<subdir>/<name>.
func (m *FileSystemMirror) Delete(ctx context.Context, subdir, name string) error {
	path := filepath.Join(m.root, subdir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing mirror copy: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the mirror root is a writable directory.
func (m *FileSystemMirror) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(m.root)
	if err != nil {
		return fmt.Errorf("mirror root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mirror root is not a directory: %s", m.root)
	}
	probe, err := os.CreateTemp(m.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("mirror root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Root returns the mirror root directory.
func (m *FileSystemMirror) Root() string { return m.root }

// Compile-time check that FileSystemMirror implements hoard.Mirror interface
var _ hoard.Mirror = (*FileSystemMirror)(nil)
