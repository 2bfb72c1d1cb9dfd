package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hoard-go/internal/hoard"
)

// allowedDumpOptions are the mysqldump flags a database config may pass.
var allowedDumpOptions = map[string]bool{
	"--single-transaction":     true,
	"--routines":               true,
	"--triggers":               true,
	"--events":                 true,
	"--add-drop-database":      true,
	"--add-drop-table":         true,
	"--no-tablespaces":         true,
	"--no-data":                true,
	"--no-create-info":         true,
	"--skip-lock-tables":       true,
	"--quick":                  true,
	"--extended-insert":        true,
	"--hex-blob":               true,
	"--set-gtid-purged":        true,
	"--column-statistics":      true,
	"--skip-column-statistics": true,
	"--complete-insert":        true,
	"--compress":               true,
	"--databases":              true,
	"--skip-add-drop-table":    true,
	"--skip-triggers":          true,
	"--skip-routines":          true,
}

// CheckDumpOptions rejects options outside the allow-list. Only the part
// before "=" is compared.
func CheckDumpOptions(opts []string) error {
	for _, opt := range opts {
		name, _, _ := strings.Cut(opt, "=")
		if !allowedDumpOptions[name] {
			return fmt.Errorf("disallowed mysqldump option: %s", name)
		}
	}
	return nil
}

// credentialsFile renders the [client] section passed via --defaults-extra-file.
func credentialsFile(db hoard.Database) string {
	password := strings.ReplaceAll(db.Password, `"`, `\"`)
	var b strings.Builder
	b.WriteString("[client]\n")
	b.WriteString("host=" + db.Host + "\n")
	b.WriteString("port=" + strconv.Itoa(db.Port) + "\n")
	b.WriteString("user=" + db.User + "\n")
	b.WriteString(`password="` + password + "\"\n")
	return b.String()
}

// writeCredentials stores the credentials in a 0600 temp file and returns
// its path with a cleanup func.
func writeCredentials(dir string, db hoard.Database) (string, func(), error) {
	f, err := os.CreateTemp(dir, "hoard-*.cnf")
	if err != nil {
		return "", nil, fmt.Errorf("creating credentials file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if err := f.Chmod(0600); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("securing credentials file: %w", err)
	}
	if _, err := f.WriteString(credentialsFile(db)); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing credentials file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing credentials file: %w", err)
	}
	return path, cleanup, nil
}

// MySQL implements hoard.DatabaseDumper with mysqldump and mysql.
type MySQL struct {
	runner   Runner
	timeouts Timeouts
	// tmpDir holds credential files; empty means os.TempDir.
	tmpDir string
}

func NewMySQL(runner Runner, timeouts Timeouts, tmpDir string) *MySQL {
	return &MySQL{runner: runner, timeouts: timeouts, tmpDir: tmpDir}
}

// Dump runs mysqldump for db and streams the SQL to w.
func (m *MySQL) Dump(ctx context.Context, db hoard.Database, w io.Writer) error {
	if err := CheckDumpOptions(db.Options); err != nil {
		return hoard.NewError(hoard.ErrValidation, "dump", db.Name, err)
	}
	cnf, cleanup, err := writeCredentials(m.tmpDir, db)
	if err != nil {
		return hoard.NewError(hoard.ErrIO, "dump", db.Name, err)
	}
	defer cleanup()

	args := append([]string{"--defaults-extra-file=" + cnf}, db.Options...)
	args = append(args, db.Name)
	_, err = m.runner.Run(ctx, Command{
		Name:    "mysqldump",
		Args:    args,
		Stdout:  w,
		Timeout: m.timeouts.MySQLDump,
	})
	return err
}

// Restore pipes the dump read from r into mysql.
func (m *MySQL) Restore(ctx context.Context, db hoard.Database, r io.Reader) error {
	cnf, cleanup, err := writeCredentials(m.tmpDir, db)
	if err != nil {
		return hoard.NewError(hoard.ErrIO, "restore", db.Name, err)
	}
	defer cleanup()

	_, err = m.runner.Run(ctx, Command{
		Name:    "mysql",
		Args:    []string{"--defaults-extra-file=" + cnf, db.Name},
		Stdin:   r,
		Stdout:  io.Discard,
		Timeout: m.timeouts.MySQLRestore,
	})
	return err
}

var _ hoard.DatabaseDumper = (*MySQL)(nil)
