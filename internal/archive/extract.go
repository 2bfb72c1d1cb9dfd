package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafeMember is returned for members with absolute paths or ".." components.
var ErrUnsafeMember = errors.New("archive member escapes target directory")

// ErrBinary is returned by Preview for content that is not UTF-8 text.
var ErrBinary = errors.New("file appears to be binary")

// ErrMemberNotFound is returned by Preview when no member has the requested path.
var ErrMemberNotFound = errors.New("file not found in backup")

// Member describes one archive entry.
type Member struct {
	Name    string // full member name, including the item directory
	Path    string // path relative to the item root
	Dir     bool
	Link    bool // symlink or hardlink
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// ExtractOptions selects and places members during extraction.
type ExtractOptions struct {
	// Match, when set, limits extraction to members whose relative path it accepts.
	Match func(rel string) bool
	// Flatten writes matched files directly into the target, dropping directories.
	Flatten bool
}

// ExtractResult lists what an extraction wrote and what it refused.
type ExtractResult struct {
	Files   []string // relative paths written
	Skipped []string // symlink and hardlink members left out
}

type reader struct {
	f  *os.File
	gz *gzip.Reader
	tr *tar.Reader
}

func open(archivePath string) (*reader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	return &reader{f: f, gz: gz, tr: tar.NewReader(gz)}, nil
}

func (r *reader) Close() error {
	r.gz.Close()
	return r.f.Close()
}

// relPath strips the leading item directory from a member name.
func relPath(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimSuffix(name, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func checkMember(name string) error {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %s", ErrUnsafeMember, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %s", ErrUnsafeMember, name)
		}
	}
	return nil
}

// List returns every member of the archive in stream order.
func List(archivePath string) ([]Member, error) {
	r, err := open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var members []Member
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		members = append(members, Member{
			Name:    hdr.Name,
			Path:    relPath(hdr.Name),
			Dir:     hdr.Typeflag == tar.TypeDir,
			Link:    hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink,
			Size:    hdr.Size,
			Mode:    os.FileMode(hdr.Mode).Perm(),
			ModTime: hdr.ModTime,
		})
	}
	return members, nil
}

// Validate checks every member name before anything is written.
func Validate(archivePath string) error {
	members, err := List(archivePath)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := checkMember(m.Name); err != nil {
			return err
		}
	}
	return nil
}

// Extract writes the archive's members below target, stripping the leading
// item directory. All member names are validated before the first write.
func Extract(archivePath, target string, opts ExtractOptions) (*ExtractResult, error) {
	if err := Validate(archivePath); err != nil {
		return nil, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}
	if err := os.MkdirAll(absTarget, 0755); err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}

	r, err := open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	res := &ExtractResult{}
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading archive: %w", err)
		}
		rel := relPath(hdr.Name)
		if rel == "" {
			continue
		}
		if opts.Match != nil && hdr.Typeflag != tar.TypeDir && !opts.Match(rel) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeSymlink, tar.TypeLink:
			res.Skipped = append(res.Skipped, rel)
			continue
		case tar.TypeDir:
			if opts.Match != nil || opts.Flatten {
				continue
			}
			if err := os.MkdirAll(filepath.Join(absTarget, filepath.FromSlash(rel)), 0755); err != nil {
				return res, fmt.Errorf("creating directory %s: %w", rel, err)
			}
			continue
		case tar.TypeReg:
		default:
			res.Skipped = append(res.Skipped, rel)
			continue
		}

		out := rel
		if opts.Flatten {
			out = path.Base(rel)
		}
		dest := filepath.Join(absTarget, filepath.FromSlash(out))
		if !strings.HasPrefix(dest, absTarget+string(os.PathSeparator)) {
			return res, fmt.Errorf("%w: %s", ErrUnsafeMember, hdr.Name)
		}
		if err := writeMember(r.tr, dest, hdr); err != nil {
			return res, fmt.Errorf("extracting %s: %w", rel, err)
		}
		res.Files = append(res.Files, rel)
	}
	return res, nil
}

func writeMember(src io.Reader, dest string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	// Never follow a pre-existing symlink at the destination.
	if info, err := os.Lstat(dest); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dest); err != nil {
			return err
		}
	}
	perm := os.FileMode(hdr.Mode).Perm()
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dest, perm); err != nil {
		return err
	}
	return os.Chtimes(dest, hdr.ModTime, hdr.ModTime)
}

// Preview returns up to maxLines lines of the text member at rel.
func Preview(archivePath, rel string, maxLines int) (string, error) {
	r, err := open(archivePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	rel = strings.TrimSuffix(strings.TrimPrefix(rel, "./"), "/")
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("%w: %s", ErrMemberNotFound, rel)
		}
		if err != nil {
			return "", fmt.Errorf("reading archive: %w", err)
		}
		if relPath(hdr.Name) != rel && strings.TrimSuffix(hdr.Name, "/") != rel {
			continue
		}
		if hdr.Typeflag == tar.TypeDir {
			return "", fmt.Errorf("cannot preview directory: %s", rel)
		}
		data, err := io.ReadAll(r.tr)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s", ErrBinary, rel)
		}
		content := string(data)
		lines := strings.Split(content, "\n")
		if maxLines > 0 && len(lines) > maxLines {
			return strings.Join(lines[:maxLines], "\n") +
				fmt.Sprintf("\n\n... (%d more lines) ...", len(lines)-maxLines), nil
		}
		return content, nil
	}
}
