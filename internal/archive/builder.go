// Package archive builds and reads the tar.gz artifacts of project backups.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	hfs "hoard-go/internal/fs"
)

// Mode selects what an archive contains.
type Mode int

const (
	ModeFull Mode = iota
	ModeIncremental
	ModeComplete
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeComplete:
		return "complete"
	default:
		return "full"
	}
}

// Options configures a single archive build.
type Options struct {
	Root string // item source directory
	Item string // item name, used as the top-level member directory
	Mode Mode

	// Exclude holds item and global patterns. Ignored in ModeComplete.
	Exclude []string
	// ArchivePatterns are the only exclusions of ModeComplete.
	ArchivePatterns []string

	// Baseline is the previous index, required for ModeIncremental.
	Baseline SnapshotIndex
	// BaselineErr explains a missing or unreadable baseline.
	BaselineErr error

	// CompressionLevel is passed to gzip; zero selects the default.
	CompressionLevel int
}

// Result describes a completed build.
type Result struct {
	Mode           Mode
	Index          SnapshotIndex // nil for complete builds
	FilesAdded     int
	FilesSkipped   int
	Deleted        []string // paths present in the baseline but gone now
	Ignored        []string // symlinks and special files left out
	Degraded       bool     // incremental requested but built as full
	DegradedReason string
	Size           int64
}

// matcher builds the exclusion matcher for opts, merging the item's ignore file.
func matcher(opts Options) (*hfs.IgnoreMatcher, error) {
	if opts.Mode == ModeComplete {
		return hfs.NewArchiveOnlyMatcher(opts.ArchivePatterns)
	}
	patterns := append([]string{}, opts.Exclude...)
	extra, err := hfs.ParseIgnoreFile(filepath.Join(opts.Root, hfs.IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return hfs.NewIgnoreMatcher(append(patterns, extra...))
}

// walk visits every non-excluded entry below root in lexical order.
func walk(ctx context.Context, root string, m *hfs.IgnoreMatcher, fn func(path, rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel != "." && m.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(p, rel, d)
	})
}

// Estimate sums the sizes of the regular files a full build of opts would read.
func Estimate(ctx context.Context, opts Options) (int64, error) {
	m, err := matcher(opts)
	if err != nil {
		return 0, err
	}
	var total int64
	err = walk(ctx, opts.Root, m, func(_, _ string, d fs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("estimating size of %s: %w", opts.Root, err)
	}
	return total, nil
}

// Build writes a gzip-compressed tar archive of opts.Root to dest. Members are
// named <item>/<relative path>. On any error dest is removed.
func Build(ctx context.Context, dest string, opts Options) (res *Result, err error) {
	m, err := matcher(opts)
	if err != nil {
		return nil, err
	}

	res = &Result{Mode: opts.Mode}
	if opts.Mode == ModeIncremental && opts.Baseline == nil {
		res.Mode = ModeFull
		res.Degraded = true
		res.DegradedReason = "no snapshot index"
		if opts.BaselineErr != nil {
			res.DegradedReason = opts.BaselineErr.Error()
		}
	}
	if res.Mode != ModeComplete {
		res.Index = SnapshotIndex{}
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(dest)
		}
	}()

	level := opts.CompressionLevel
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	err = walk(ctx, opts.Root, m, func(p, rel string, d fs.DirEntry) error {
		name := opts.Item
		if rel != "." {
			name = opts.Item + "/" + filepath.ToSlash(rel)
		}

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case !d.Type().IsRegular():
			res.Ignored = append(res.Ignored, filepath.ToSlash(rel))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		entry := Entry{MTime: info.ModTime().UnixNano(), Size: info.Size(), Mode: uint32(info.Mode().Perm())}
		if res.Index != nil {
			res.Index[key] = entry
		}
		if res.Mode == ModeIncremental && opts.Baseline.Unchanged(key, entry) {
			res.FilesSkipped++
			return nil
		}
		if err := addFile(tw, p, name, info); err != nil {
			return err
		}
		res.FilesAdded++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", opts.Root, err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}

	if res.Mode == ModeIncremental {
		for p := range opts.Baseline {
			if _, ok := res.Index[p]; !ok {
				res.Deleted = append(res.Deleted, p)
			}
		}
		sort.Strings(res.Deleted)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	res.Size = info.Size()
	success = true
	return res, nil
}

func addFile(tw *tar.Writer, path, name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	n, err := io.Copy(tw, io.LimitReader(src, info.Size()))
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("%s changed size while archiving", name)
	}
	return nil
}

// ErrNotArchive is returned when a file is not a readable tar.gz stream.
var ErrNotArchive = errors.New("not a tar.gz archive")
