package tools_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"hoard-go/internal/hoard"
	"hoard-go/internal/tools"
)

// recorder is a Runner that records commands and answers from a script.
type recorder struct {
	calls []tools.Command
	// respond returns output and error for a call; nil means success with no output.
	respond func(c tools.Command) ([]byte, error)
}

func (r *recorder) Run(ctx context.Context, c tools.Command) ([]byte, error) {
	r.calls = append(r.calls, c)
	if r.respond == nil {
		return nil, nil
	}
	return r.respond(c)
}

func shopDB() hoard.Database {
	return hoard.Database{Name: "shop", Host: "db.local", Port: 3307, User: "backup", Password: `p"w#1`}
}

func TestCheckDumpOptions(t *testing.T) {
	tests := []struct {
		opts    []string
		wantErr bool
	}{
		{nil, false},
		{[]string{"--single-transaction", "--routines"}, false},
		{[]string{"--set-gtid-purged=OFF"}, false},
		{[]string{"--result-file=/etc/passwd"}, true},
		{[]string{"--quick", "--defaults-file=/tmp/x"}, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.opts, " "), func(t *testing.T) {
			err := tools.CheckDumpOptions(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckDumpOptions(%v) error = %v, wantErr %v", tt.opts, err, tt.wantErr)
			}
		})
	}
}

func TestMySQL_Dump(t *testing.T) {
	tmp := t.TempDir()
	var cnfContent string
	var cnfMode os.FileMode
	rec := &recorder{respond: func(c tools.Command) ([]byte, error) {
		path := strings.TrimPrefix(c.Args[0], "--defaults-extra-file=")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		info, _ := os.Stat(path)
		cnfContent, cnfMode = string(data), info.Mode().Perm()
		io.WriteString(c.Stdout, "CREATE TABLE t (id int);\n")
		return nil, nil
	}}
	m := tools.NewMySQL(rec, tools.DefaultTimeouts(), tmp)

	db := shopDB()
	db.Options = []string{"--single-transaction"}
	var out bytes.Buffer
	if err := m.Dump(context.Background(), db, &out); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.calls))
	}
	c := rec.calls[0]
	if c.Name != "mysqldump" {
		t.Errorf("Name = %q, want mysqldump", c.Name)
	}
	if got := c.Args[1:]; len(got) != 2 || got[0] != "--single-transaction" || got[1] != "shop" {
		t.Errorf("Args = %v", c.Args)
	}
	if c.Timeout != time.Hour {
		t.Errorf("Timeout = %s, want 1h", c.Timeout)
	}
	want := "[client]\nhost=db.local\nport=3307\nuser=backup\npassword=\"p\\\"w#1\"\n"
	if cnfContent != want {
		t.Errorf("credentials file = %q, want %q", cnfContent, want)
	}
	if cnfMode != 0600 {
		t.Errorf("credentials file mode = %o, want 600", cnfMode)
	}
	if out.String() != "CREATE TABLE t (id int);\n" {
		t.Errorf("dump output = %q", out.String())
	}

	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("credentials file not removed: %v", entries)
	}
}

func TestMySQL_Dump_DisallowedOption(t *testing.T) {
	rec := &recorder{}
	m := tools.NewMySQL(rec, tools.DefaultTimeouts(), t.TempDir())
	db := shopDB()
	db.Options = []string{"--result-file=/tmp/x"}

	err := m.Dump(context.Background(), db, io.Discard)
	if !errors.Is(err, hoard.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Error("mysqldump should not run with a disallowed option")
	}
}

func TestMySQL_Restore(t *testing.T) {
	rec := &recorder{respond: func(c tools.Command) ([]byte, error) {
		data, err := io.ReadAll(c.Stdin)
		if err != nil {
			return nil, err
		}
		if string(data) != "SELECT 1;" {
			return nil, errors.New("unexpected stdin")
		}
		return nil, nil
	}}
	m := tools.NewMySQL(rec, tools.DefaultTimeouts(), t.TempDir())

	if err := m.Restore(context.Background(), shopDB(), strings.NewReader("SELECT 1;")); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	c := rec.calls[0]
	if c.Name != "mysql" || c.Args[len(c.Args)-1] != "shop" {
		t.Errorf("unexpected command: %s", c)
	}
	if c.Timeout != 2*time.Hour {
		t.Errorf("Timeout = %s, want 2h", c.Timeout)
	}
}

func TestGit_Bundle(t *testing.T) {
	rec := &recorder{}
	g := tools.NewGit(rec, tools.DefaultTimeouts())

	if err := g.Bundle(context.Background(), "/src/repo", "/store/git/repo/r.bundle"); err != nil {
		t.Fatal(err)
	}
	c := rec.calls[0]
	if c.String() != "git bundle create /store/git/repo/r.bundle --all" {
		t.Errorf("command = %q", c.String())
	}
	if c.Dir != "/src/repo" {
		t.Errorf("Dir = %q, want /src/repo", c.Dir)
	}
	if c.Timeout != 30*time.Minute {
		t.Errorf("Timeout = %s, want 30m", c.Timeout)
	}
}

func TestGit_Info(t *testing.T) {
	long := strings.Repeat("x", 150)
	rec := &recorder{respond: func(c tools.Command) ([]byte, error) {
		switch c.Args[0] {
		case "rev-parse":
			return []byte("main\n"), nil
		case "log":
			return []byte("abc123\n" + long + "\n"), nil
		case "status":
			return []byte(" M file.go\n"), nil
		}
		return nil, nil
	}}
	g := tools.NewGit(rec, tools.DefaultTimeouts())

	info, err := g.Info(context.Background(), "/src/repo")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Branch != "main" || info.Commit != "abc123" || !info.Dirty {
		t.Errorf("Info() = %+v", info)
	}
	if len(info.CommitMessage) != 100 {
		t.Errorf("commit message length = %d, want 100", len(info.CommitMessage))
	}
}

func TestGit_FetchFallsBackToPull(t *testing.T) {
	rec := &recorder{respond: func(c tools.Command) ([]byte, error) {
		if c.Args[0] == "fetch" {
			return nil, errors.New("refusing to fetch into current branch")
		}
		return nil, nil
	}}
	g := tools.NewGit(rec, tools.DefaultTimeouts())

	if err := g.Fetch(context.Background(), "/b.bundle", "/work"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(rec.calls))
	}
	if rec.calls[0].String() != "git fetch /b.bundle *:*" {
		t.Errorf("first call = %q", rec.calls[0].String())
	}
	if rec.calls[1].String() != "git pull /b.bundle HEAD" {
		t.Errorf("second call = %q", rec.calls[1].String())
	}
}

func TestExecRunner(t *testing.T) {
	r := tools.NewExecRunner(hoard.NewNopLogger())
	ctx := context.Background()

	t.Run("captures output", func(t *testing.T) {
		out, err := r.Run(ctx, tools.Command{Name: "sh", Args: []string{"-c", "echo hello"}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if strings.TrimSpace(string(out)) != "hello" {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("non-zero exit is a tool failure", func(t *testing.T) {
		_, err := r.Run(ctx, tools.Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
		if !errors.Is(err, hoard.ErrTool) {
			t.Fatalf("expected ErrTool, got %v", err)
		}
		if !strings.Contains(err.Error(), "broken") {
			t.Errorf("error should include stderr: %v", err)
		}
	})

	t.Run("timeout is a tool failure", func(t *testing.T) {
		_, err := r.Run(ctx, tools.Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
		if !errors.Is(err, hoard.ErrTool) {
			t.Fatalf("expected ErrTool, got %v", err)
		}
		if !strings.Contains(err.Error(), "timed out") {
			t.Errorf("error = %v, want timeout", err)
		}
	})
}
