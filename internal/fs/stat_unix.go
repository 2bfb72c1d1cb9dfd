//go:build unix

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds an item's lock.
var ErrLocked = errors.New("item is locked by another operation")

// LockFileName is the advisory lock file kept in each item's backup directory.
const LockFileName = ".lock"

// StatfsSpace reports free space for the filesystem holding a path.
type StatfsSpace struct{}

// Available returns the bytes available to an unprivileged user on the
// filesystem containing path. Missing path components are walked up until an
// existing ancestor is found.
func (StatfsSpace) Available(path string) (uint64, error) {
	p := path
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// FlockLocker grants exclusive per-directory locks through flock(2).
type FlockLocker struct{}

// Lock takes a non-blocking exclusive lock on <dir>/.lock. It returns
// ErrLocked if the lock is held elsewhere. The returned function releases it.
func (FlockLocker) Lock(dir string) (func() error, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("locking %s: %w", dir, err)
	}
	return func() error {
		defer f.Close()
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
