// Package gitrunner implements merger.GitRunner by shelling out to the
// git binary against a scratch worktree per project, one directory
// under a configured base path. No complete repository in the example
// corpus wraps git behind a library (go-github and friends only ever
// fetch tarballs/blobs over their REST APIs) and the original
// scheduler's merger shells out to git directly, so os/exec is kept
// rather than introduced as a new hand-rolled abstraction.
package gitrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Runner shells out to git in per-project worktrees rooted at Dir.
type Runner struct {
	Dir string

	mu       sync.Mutex
	prepared map[string]bool
}

// New creates a Runner that keeps its scratch worktrees under dir.
func New(dir string) *Runner {
	return &Runner{Dir: dir, prepared: make(map[string]bool)}
}

func (r *Runner) worktree(project *model.Project) string {
	return filepath.Join(r.Dir, project.CanonicalHostname, project.Name)
}

// cloneURL derives the git remote for a project by convention: an
// https checkout of its canonical hostname and name. Connections that
// need authenticated clones configure git's credential helper or SSH
// agent out of band; this runner only ever invokes "git".
func cloneURL(project *model.Project) string {
	return fmt.Sprintf("https://%s/%s.git", project.CanonicalHostname, project.Name)
}

func (r *Runner) ensureWorktree(ctx context.Context, project *model.Project) (string, error) {
	dir := r.worktree(project)
	r.mu.Lock()
	ready := r.prepared[dir]
	r.mu.Unlock()
	if ready {
		return dir, nil
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("gitrunner: creating %s: %w", dir, err)
		}
		if _, err := r.run(ctx, filepath.Dir(dir), "clone", "--no-checkout", cloneURL(project), dir); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	r.prepared[dir] = true
	r.mu.Unlock()
	return dir, nil
}

// Fetch brings refspec into the project's scratch worktree.
func (r *Runner) Fetch(ctx context.Context, project *model.Project, refspec string) error {
	dir, err := r.ensureWorktree(ctx, project)
	if err != nil {
		return err
	}
	_, err = r.run(ctx, dir, "fetch", "origin", refspec)
	return err
}

// Reset hard-resets the project's worktree to ref.
func (r *Runner) Reset(ctx context.Context, project *model.Project, ref string) error {
	dir, err := r.ensureWorktree(ctx, project)
	if err != nil {
		return err
	}
	_, err = r.run(ctx, dir, "reset", "--hard", ref)
	return err
}

// Merge merges FETCH_HEAD into the current worktree and returns the
// resulting commit sha.
func (r *Runner) Merge(ctx context.Context, project *model.Project) (string, error) {
	dir, err := r.ensureWorktree(ctx, project)
	if err != nil {
		return "", err
	}
	if _, err := r.run(ctx, dir, "merge", "--no-edit", "FETCH_HEAD"); err != nil {
		return "", err
	}
	out, err := r.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists files that differ between base and head.
func (r *Runner) ChangedFiles(ctx context.Context, project *model.Project, base, head string) ([]string, error) {
	dir, err := r.ensureWorktree(ctx, project)
	if err != nil {
		return nil, err
	}
	out, err := r.run(ctx, dir, "diff", "--name-only", base, head)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gitrunner: git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}
