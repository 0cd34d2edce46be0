// Package merger performs the speculative merges a dependent
// pipeline's shared queue relies on: applying a change's refspec onto
// its ItemAhead's already-merged tree, rather than onto the branch tip
// directly (spec §3, §5 — speculative merge across a shared queue).
package merger

import (
	"context"
	"fmt"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// GitRunner is the narrow shell-out contract a Merger needs; grounded
// on the teacher's pattern of wrapping external commands behind a
// small interface so tests can substitute a fake. A real
// implementation shells out to git in a scratch worktree per project.
type GitRunner interface {
	// Fetch brings refspec into the local repository for project.
	Fetch(ctx context.Context, project *model.Project, refspec string) error
	// Reset hard-resets the project's worktree to ref.
	Reset(ctx context.Context, project *model.Project, ref string) error
	// Merge merges the previously fetched FETCH_HEAD into the current
	// worktree, returning the resulting commit sha.
	Merge(ctx context.Context, project *model.Project) (commit string, err error)
	// ChangedFiles lists files that differ between base and head.
	ChangedFiles(ctx context.Context, project *model.Project, base, head string) ([]string, error)
}

// Merger performs speculative merges for queue items and tracks which
// are outstanding, so a pipeline manager never issues two concurrent
// merge requests for the same BuildSet.
type Merger struct {
	git GitRunner

	outstanding map[*model.BuildSet]bool
}

// New creates a Merger backed by git.
func New(git GitRunner) *Merger {
	return &Merger{git: git, outstanding: make(map[*model.BuildSet]bool)}
}

// AreMergesOutstanding reports whether bs has a merge request in
// flight.
func (m *Merger) AreMergesOutstanding(bs *model.BuildSet) bool {
	return m.outstanding[bs]
}

// MergeChanges speculatively merges item's change onto the tree left
// behind by item.ItemAhead (or the project's branch tip, if item is at
// the head of its queue), and records the result on bs.Merge.
//
// The caller must not call MergeChanges again for the same BuildSet
// while AreMergesOutstanding reports true for it.
func (m *Merger) MergeChanges(ctx context.Context, item *model.QueueItem, bs *model.BuildSet) error {
	m.outstanding[bs] = true
	defer delete(m.outstanding, bs)

	project := item.Change.Project()
	base := item.Change.TargetBranch()
	if ahead := item.ItemAhead; ahead != nil && ahead.CurrentBuildSet != nil && ahead.CurrentBuildSet.Merge.Succeeded {
		base = ahead.CurrentBuildSet.Merge.MergedCommit
	}

	if err := m.git.Reset(ctx, project, base); err != nil {
		bs.Merge = model.MergeState{Attempted: true, Succeeded: false}
		return fmt.Errorf("merger: resetting to base %s: %w", base, err)
	}

	for _, refspec := range item.Change.Refspecs() {
		if refspec == "" {
			continue
		}
		if err := m.git.Fetch(ctx, project, refspec); err != nil {
			bs.Merge = model.MergeState{Attempted: true, Succeeded: false}
			return fmt.Errorf("merger: fetching %s: %w", refspec, err)
		}
		commit, err := m.git.Merge(ctx, project)
		if err != nil {
			bs.Merge = model.MergeState{Attempted: true, Succeeded: false}
			return nil // merge conflict is not a transport error; caller reads Merge.Succeeded
		}
		base = commit
	}

	files, err := m.git.ChangedFiles(ctx, project, item.Change.TargetBranch(), base)
	if err != nil {
		files = nil
	}

	bs.Merge = model.MergeState{
		Attempted:    true,
		Succeeded:    true,
		MergedCommit: base,
		Files:        files,
		RepoState:    base,
	}
	return nil
}
