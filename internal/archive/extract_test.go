package archive_test

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"hoard-go/internal/archive"
	"hoard-go/internal/testutil"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func writeRawArchive(t *testing.T, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typ := e.typeflag
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: typ, Linkname: e.linkname}
		if typ != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if typ == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	tw.Close()
	gz.Close()
	f.Close()
	return path
}

func TestExtract_RoundTrip(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{"a.txt": "alpha", "src/b.py": "beta", "src/deep/c.md": "gamma"}
	testutil.WriteTree(t, root, files)

	dest := filepath.Join(t.TempDir(), "app.tar.gz")
	if _, err := archive.Build(context.Background(), dest, archive.Options{Root: root, Item: "app"}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	target := filepath.Join(t.TempDir(), "restored")
	res, err := archive.Extract(dest, target, archive.ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Files) != 3 {
		t.Errorf("extracted %d files, want 3", len(res.Files))
	}
	got := testutil.ReadTree(t, target)
	for k, v := range files {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestExtract_RejectsUnsafeMembers(t *testing.T) {
	tests := []struct {
		name   string
		member string
	}{
		{"absolute path", "/etc/passwd"},
		{"parent traversal", "app/../../evil.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRawArchive(t, []tarEntry{
				{name: "app/ok.txt", body: "fine"},
				{name: tt.member, body: "bad"},
			})
			target := filepath.Join(t.TempDir(), "out")
			_, err := archive.Extract(path, target, archive.ExtractOptions{})
			if !errors.Is(err, archive.ErrUnsafeMember) {
				t.Fatalf("Extract() error = %v, want ErrUnsafeMember", err)
			}
			if _, err := os.Stat(filepath.Join(target, "ok.txt")); !os.IsNotExist(err) {
				t.Error("nothing should be written when any member is unsafe")
			}
		})
	}
}

func TestExtract_SkipsLinks(t *testing.T) {
	path := writeRawArchive(t, []tarEntry{
		{name: "app/real.txt", body: "real"},
		{name: "app/sym", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
		{name: "app/hard", typeflag: tar.TypeLink, linkname: "app/real.txt"},
	})
	target := t.TempDir()
	res, err := archive.Extract(path, target, archive.ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !slices.Equal(res.Skipped, []string{"sym", "hard"}) {
		t.Errorf("skipped = %v", res.Skipped)
	}
	if _, err := os.Lstat(filepath.Join(target, "sym")); !os.IsNotExist(err) {
		t.Error("symlink member was extracted")
	}
}

func TestExtract_SelectiveAndFlatten(t *testing.T) {
	path := writeRawArchive(t, []tarEntry{
		{name: "app/src/a.py", body: "a"},
		{name: "app/src/b.go", body: "b"},
		{name: "app/lib/c.py", body: "c"},
	})
	target := t.TempDir()
	res, err := archive.Extract(path, target, archive.ExtractOptions{
		Match:   func(rel string) bool { return strings.HasSuffix(rel, ".py") },
		Flatten: true,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !slices.Equal(res.Files, []string{"src/a.py", "lib/c.py"}) {
		t.Errorf("files = %v", res.Files)
	}
	got := testutil.ReadTree(t, target)
	if got["a.py"] != "a" || got["c.py"] != "c" || len(got) != 2 {
		t.Errorf("flattened tree = %v", got)
	}
}

func TestPreview(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "line"
	}
	path := writeRawArchive(t, []tarEntry{
		{name: "app/", typeflag: tar.TypeDir},
		{name: "app/notes.txt", body: strings.Join(lines, "\n")},
		{name: "app/bin.dat", body: "\xff\xfe\x00"},
	})

	got, err := archive.Preview(path, "notes.txt", 3)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.HasPrefix(got, "line\nline\nline\n") || !strings.Contains(got, "7 more lines") {
		t.Errorf("Preview() = %q", got)
	}

	if _, err := archive.Preview(path, "bin.dat", 3); !errors.Is(err, archive.ErrBinary) {
		t.Errorf("binary preview error = %v", err)
	}
	if _, err := archive.Preview(path, "missing.txt", 3); !errors.Is(err, archive.ErrMemberNotFound) {
		t.Errorf("missing preview error = %v", err)
	}
}

func TestList_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tar.gz")
	if err := os.WriteFile(path, []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := archive.List(path); !errors.Is(err, archive.ErrNotArchive) {
		t.Errorf("List() error = %v, want ErrNotArchive", err)
	}
}
