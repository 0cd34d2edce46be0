package bitbucket

import (
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

func TestSplitOwnerRepoRejectsMalformedNames(t *testing.T) {
	a := &Adapter{name: "bb"}
	if _, _, err := a.splitOwnerRepo("justonesegment"); err == nil {
		t.Fatalf("expected an error for a name without a slash")
	}
	owner, repo, err := a.splitOwnerRepo("org/repo")
	if err != nil {
		t.Fatalf("splitOwnerRepo: %v", err)
	}
	if owner != "org" || repo != "repo" {
		t.Fatalf("got owner=%q repo=%q", owner, repo)
	}
}

func TestStatusForMapsResultToBitbucketState(t *testing.T) {
	if state, _ := statusFor(model.ResultSuccess); state != "SUCCESSFUL" {
		t.Fatalf("expected SUCCESSFUL, got %s", state)
	}
	if state, _ := statusFor(model.ResultFailure); state != "FAILED" {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if state, _ := statusFor(model.ResultNone); state != "INPROGRESS" {
		t.Fatalf("expected INPROGRESS, got %s", state)
	}
}

func TestReportIgnoresNonPullRequestChanges(t *testing.T) {
	a, _ := New("bb", "user", "pass", "bitbucket.org")
	change := &model.RefChange{ChangeProject: &model.Project{Name: "org/repo"}, Ref: "refs/heads/main"}
	if err := a.Report(t.Context(), change, model.ReporterAction{Name: "comment"}, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
}

func TestGetProjectRejectsMalformedName(t *testing.T) {
	a, _ := New("bb", "user", "pass", "bitbucket.org")
	if _, err := a.GetProject(t.Context(), "no-slash-here"); err == nil {
		t.Fatalf("expected an error")
	}
}
