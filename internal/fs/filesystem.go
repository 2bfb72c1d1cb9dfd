package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrProtectedTarget is returned for restore targets inside system directories.
var ErrProtectedTarget = errors.New("restore target is inside a protected system directory")

// protectedPrefixes are never valid restore targets.
var protectedPrefixes = []string{"/bin", "/sbin", "/usr", "/etc", "/boot", "/dev", "/proc", "/sys", "/lib", "/lib64"}

// ValidateRestoreTarget rejects targets that resolve into a protected system directory.
func ValidateRestoreTarget(target string) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, prefix := range protectedPrefixes {
		if abs == prefix || strings.HasPrefix(abs, prefix+"/") {
			return fmt.Errorf("%w: %s", ErrProtectedTarget, abs)
		}
	}
	return nil
}

// RenameAside moves an existing path to <path>_backup_<YYYYmmdd_HHMMSS> and
// returns the new location. Returns "" and no error if path does not exist.
func RenameAside(path string, now time.Time) (string, error) {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	clean := filepath.Clean(path)
	aside := fmt.Sprintf("%s_backup_%s", clean, now.Format("20060102_150405"))
	for i := 1; ; i++ {
		if _, err := os.Lstat(aside); os.IsNotExist(err) {
			break
		}
		aside = fmt.Sprintf("%s_backup_%s_%d", clean, now.Format("20060102_150405"), i)
	}
	if err := os.Rename(clean, aside); err != nil {
		return "", fmt.Errorf("renaming %s aside: %w", clean, err)
	}
	return aside, nil
}

// WriteFileAtomic writes data from r to destPath using a temp file in the same
// directory followed by a rename. If expectedSize is non-negative the number of
// bytes written must match it.
func WriteFileAtomic(destPath string, r io.Reader, expectedSize int64, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return 0, fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// ReplaceSymlink points name at target, replacing any existing link or file.
func ReplaceSymlink(target, name string) error {
	tmp := name + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("creating symlink: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing symlink: %w", err)
	}
	return nil
}
