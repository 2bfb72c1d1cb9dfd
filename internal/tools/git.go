package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hoard-go/internal/hoard"
)

// maxSubject truncates commit subjects stored in sidecars.
const maxSubject = 100

// Git implements hoard.GitTool with the git binary.
type Git struct {
	runner   Runner
	timeouts Timeouts
}

func NewGit(runner Runner, timeouts Timeouts) *Git {
	return &Git{runner: runner, timeouts: timeouts}
}

func (g *Git) git(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, Command{Name: "git", Args: args, Dir: dir, Timeout: timeout})
	return strings.TrimSpace(string(out)), err
}

func (g *Git) IsWorkTree(ctx context.Context, dir string) bool {
	out, err := g.git(ctx, dir, g.timeouts.GitVerify, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Info collects branch, head commit and dirty state. A repository without
// commits yields an empty commit rather than an error.
func (g *Git) Info(ctx context.Context, repo string) (hoard.GitInfo, error) {
	var info hoard.GitInfo
	branch, err := g.git(ctx, repo, g.timeouts.GitVerify, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return info, fmt.Errorf("reading branch: %w", err)
	}
	info.Branch = branch

	if head, err := g.git(ctx, repo, g.timeouts.GitVerify, "log", "-1", "--format=%H%n%s"); err == nil {
		hash, subject, _ := strings.Cut(head, "\n")
		info.Commit = hash
		if len(subject) > maxSubject {
			subject = subject[:maxSubject]
		}
		info.CommitMessage = subject
	}

	status, err := g.git(ctx, repo, g.timeouts.GitVerify, "status", "--porcelain")
	if err != nil {
		return info, fmt.Errorf("reading status: %w", err)
	}
	info.Dirty = status != ""
	return info, nil
}

func (g *Git) Bundle(ctx context.Context, repo, dest string) error {
	_, err := g.git(ctx, repo, g.timeouts.GitBundle, "bundle", "create", dest, "--all")
	return err
}

func (g *Git) VerifyBundle(ctx context.Context, dir, bundle string) error {
	_, err := g.git(ctx, dir, g.timeouts.GitVerify, "bundle", "verify", bundle)
	return err
}

func (g *Git) Clone(ctx context.Context, bundle, target string) error {
	_, err := g.git(ctx, "", g.timeouts.GitClone, "clone", bundle, target)
	return err
}

// Fetch updates every ref of target from bundle, falling back to pulling
// HEAD when the refspec fetch is refused (e.g. checked-out branch).
func (g *Git) Fetch(ctx context.Context, bundle, target string) error {
	if _, err := g.git(ctx, target, g.timeouts.GitClone, "fetch", bundle, "*:*"); err == nil {
		return nil
	}
	_, err := g.git(ctx, target, g.timeouts.GitClone, "pull", bundle, "HEAD")
	return err
}

var _ hoard.GitTool = (*Git)(nil)
