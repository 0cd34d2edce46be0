package merger

import (
	"context"
	"errors"
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

type fakeGit struct {
	mergeErr   error
	mergedSHA  string
	fetchErr   error
	resetCalls []string
}

func (f *fakeGit) Fetch(ctx context.Context, project *model.Project, refspec string) error {
	return f.fetchErr
}
func (f *fakeGit) Reset(ctx context.Context, project *model.Project, ref string) error {
	f.resetCalls = append(f.resetCalls, ref)
	return nil
}
func (f *fakeGit) Merge(ctx context.Context, project *model.Project) (string, error) {
	if f.mergeErr != nil {
		return "", f.mergeErr
	}
	return f.mergedSHA, nil
}
func (f *fakeGit) ChangedFiles(ctx context.Context, project *model.Project, base, head string) ([]string, error) {
	return []string{"a.go"}, nil
}

func testItem() *model.QueueItem {
	proj := &model.Project{Name: "p"}
	return &model.QueueItem{
		Change: &model.PullRequestChange{ChangeProject: proj, Number: "1", Branch: "main", Refspec: "refs/pull/1/head"},
	}
}

func TestMergeChangesSucceeds(t *testing.T) {
	git := &fakeGit{mergedSHA: "abc123"}
	m := New(git)
	item := testItem()
	bs := model.NewBuildSet(item)

	if err := m.MergeChanges(context.Background(), item, bs); err != nil {
		t.Fatalf("MergeChanges: %v", err)
	}
	if !bs.Merge.Succeeded || bs.Merge.MergedCommit != "abc123" {
		t.Fatalf("unexpected merge state: %+v", bs.Merge)
	}
	if m.AreMergesOutstanding(bs) {
		t.Fatalf("expected merge to no longer be outstanding once MergeChanges returns")
	}
}

func TestMergeChangesRecordsConflictAsUnsuccessful(t *testing.T) {
	git := &fakeGit{mergeErr: errors.New("conflict")}
	m := New(git)
	item := testItem()
	bs := model.NewBuildSet(item)

	if err := m.MergeChanges(context.Background(), item, bs); err != nil {
		t.Fatalf("MergeChanges returned a transport error for a merge conflict: %v", err)
	}
	if bs.Merge.Succeeded {
		t.Fatalf("expected Merge.Succeeded == false on conflict")
	}
	if !bs.Merge.Attempted {
		t.Fatalf("expected Merge.Attempted == true even on conflict")
	}
}

func TestMergeChangesBasesOnItemAheadWhenMerged(t *testing.T) {
	git := &fakeGit{mergedSHA: "head-sha"}
	m := New(git)

	ahead := testItem()
	ahead.CurrentBuildSet = model.NewBuildSet(ahead)
	ahead.CurrentBuildSet.Merge = model.MergeState{Succeeded: true, MergedCommit: "ahead-sha"}

	item := testItem()
	item.ItemAhead = ahead
	bs := model.NewBuildSet(item)

	if err := m.MergeChanges(context.Background(), item, bs); err != nil {
		t.Fatalf("MergeChanges: %v", err)
	}
	if len(git.resetCalls) != 1 || git.resetCalls[0] != "ahead-sha" {
		t.Fatalf("expected reset to ahead's merged commit, got resets %v", git.resetCalls)
	}
}
