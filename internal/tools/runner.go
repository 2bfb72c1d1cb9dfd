// Package tools runs the external programs backups depend on: mysqldump,
// mysql and git.
package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"hoard-go/internal/hoard"
)

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	Stdin io.Reader
	// Stdout receives the program output. When nil, output is captured and
	// returned by Run.
	Stdout io.Writer

	// Timeout bounds the run. Zero means no limit beyond ctx.
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// maxStderr caps how much diagnostic output is kept for error messages.
const maxStderr = 4096

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger hoard.Logger
}

func NewExecRunner(logger hoard.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts the command and waits for it. A non-zero exit or an exceeded
// timeout is reported as a tool failure and never retried.
func (r *ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("command finished", "cmd", c.Name, "dir", c.Dir, "duration", time.Since(start))

	if err == nil {
		return stdout.Bytes(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, hoard.Errorf(hoard.ErrTool, c.Name, "", "timed out after %s", c.Timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, hoard.NewError(hoard.ErrTool, c.Name, "", ctx.Err())
	}

	msg := strings.TrimSpace(stderr.String())
	if len(msg) > maxStderr {
		msg = msg[:maxStderr] + "..."
	}
	if msg != "" {
		r.logger.Debug("command stderr", "cmd", c.Name, "stderr", msg)
		return nil, hoard.Errorf(hoard.ErrTool, c.Name, "", "%v: %s", err, msg)
	}
	return nil, hoard.NewError(hoard.ErrTool, c.Name, "", err)
}

var _ Runner = (*ExecRunner)(nil)

// Timeouts bounds each kind of tool invocation.
type Timeouts struct {
	MySQLDump    time.Duration
	MySQLRestore time.Duration
	GitBundle    time.Duration
	GitClone     time.Duration
	GitVerify    time.Duration
}

// DefaultTimeouts returns the standard limits.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		MySQLDump:    time.Hour,
		MySQLRestore: 2 * time.Hour,
		GitBundle:    30 * time.Minute,
		GitClone:     30 * time.Minute,
		GitVerify:    5 * time.Minute,
	}
}
