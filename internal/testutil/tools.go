package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"hoard-go/internal/hoard"
)

// FakeDumper is a hoard.DatabaseDumper that writes canned dumps and keeps
// restored input in memory.
type FakeDumper struct {
	mu sync.Mutex
	// Dumps maps database name to the SQL Dump writes.
	Dumps map[string]string
	// Restored maps database name to the SQL Restore received.
	Restored map[string]string
	// Passwords records the password each call was given.
	Passwords []string
	// Err, when set, is returned by every call.
	Err error
}

// NewFakeDumper creates an empty FakeDumper.
func NewFakeDumper() *FakeDumper {
	return &FakeDumper{Dumps: make(map[string]string), Restored: make(map[string]string)}
}

func (d *FakeDumper) Dump(ctx context.Context, db hoard.Database, w io.Writer) error {
	d.mu.Lock()
	d.Passwords = append(d.Passwords, db.Password)
	sql, err := d.Dumps[db.Name], d.Err
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if sql == "" {
		sql = fmt.Sprintf("-- dump of %s\nCREATE TABLE t (id INT);\n", db.Name)
	}
	_, err = io.WriteString(w, sql)
	return err
}

func (d *FakeDumper) Restore(ctx context.Context, db hoard.Database, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Passwords = append(d.Passwords, db.Password)
	if d.Err != nil {
		return d.Err
	}
	d.Restored[db.Name] = string(data)
	return nil
}

var _ hoard.DatabaseDumper = (*FakeDumper)(nil)

// FakeGit is a hoard.GitTool that treats any directory containing a .git
// entry as a work tree. Bundles are plain files naming their source.
type FakeGit struct {
	mu sync.Mutex
	// State is what Info reports.
	State hoard.GitInfo
	// BundleErr, when set, is returned by Bundle.
	BundleErr error
	Fetched   []string
}

// NewFakeGit creates a FakeGit reporting a clean main branch.
func NewFakeGit() *FakeGit {
	return &FakeGit{State: hoard.GitInfo{
		Branch:        "main",
		Commit:        "0123456789abcdef0123456789abcdef01234567",
		CommitMessage: "initial commit",
	}}
}

// InitRepo marks dir as a work tree.
func InitRepo(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".git"), 0755)
}

func (g *FakeGit) IsWorkTree(ctx context.Context, dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

func (g *FakeGit) Info(ctx context.Context, repo string) (hoard.GitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.State, nil
}

func (g *FakeGit) Bundle(ctx context.Context, repo, dest string) error {
	g.mu.Lock()
	err := g.BundleErr
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("# v2 git bundle\n"+repo+"\n"), 0644)
}

func (g *FakeGit) VerifyBundle(ctx context.Context, dir, bundle string) error {
	if _, err := os.Stat(bundle); err != nil {
		return fmt.Errorf("bundle verify failed: %w", err)
	}
	return nil
}

func (g *FakeGit) Clone(ctx context.Context, bundle, target string) error {
	data, err := os.ReadFile(bundle)
	if err != nil {
		return err
	}
	if err := InitRepo(target); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(target, "BUNDLE"), data, 0644)
}

func (g *FakeGit) Fetch(ctx context.Context, bundle, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetched = append(g.Fetched, target)
	return nil
}

var _ hoard.GitTool = (*FakeGit)(nil)
