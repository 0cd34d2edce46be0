package github

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	a, err := New("github", "token", server.URL+"/", "github.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSplitOwnerRepoRejectsMalformedNames(t *testing.T) {
	a := &Adapter{name: "gh"}
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

func TestGetProjectFetchesRepository(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/repos/org/repo") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"full_name": "org/repo"})
	})

	project, err := a.GetProject(t.Context(), "org/repo")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.Name != "org/repo" || project.CanonicalHostname != "github.example.com" {
		t.Fatalf("unexpected project: %+v", project)
	}
}

func TestGetProjectSurfacesNotFoundAsTransientError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
	})

	_, err := a.GetProject(t.Context(), "org/missing")
	if err == nil {
		t.Fatalf("expected an error for a missing repository")
	}
	if kind := schederrors.KindOf(err); kind != schederrors.TransientExternal {
		t.Fatalf("expected a TransientExternal error, got %v", kind)
	}
}

func TestReviewTypeAndValueMapStates(t *testing.T) {
	if reviewType("APPROVED") != model.ApprovalApprove || reviewValue("APPROVED") != 2 {
		t.Fatalf("expected APPROVED to map to an approve vote of 2")
	}
	if reviewType("CHANGES_REQUESTED") != model.ApprovalReject || reviewValue("CHANGES_REQUESTED") != -2 {
		t.Fatalf("expected CHANGES_REQUESTED to map to a reject vote of -2")
	}
	if reviewType("COMMENTED") != model.ApprovalComment || reviewValue("COMMENTED") != 0 {
		t.Fatalf("expected COMMENTED to map to a neutral comment vote")
	}
}

func TestStatusForMapsResultToGitHubState(t *testing.T) {
	if state, _ := statusFor(model.ResultSuccess); state != "success" {
		t.Fatalf("expected success, got %s", state)
	}
	if state, _ := statusFor(model.ResultNone); state != "pending" {
		t.Fatalf("expected pending, got %s", state)
	}
	if state, _ := statusFor(model.ResultFailure); state != "failure" {
		t.Fatalf("expected failure, got %s", state)
	}
}

func TestReportIgnoresNonPullRequestChanges(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for a non-pull-request change: %s", r.URL.Path)
	})

	change := &model.RefChange{ChangeProject: &model.Project{Name: "org/repo"}, Ref: "refs/heads/main"}
	if err := a.Report(t.Context(), change, model.ReporterAction{Name: "status"}, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
}

func TestReportStatusPostsCommitStatus(t *testing.T) {
	var sawStatus bool
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/statuses/") && r.Method == http.MethodPost {
			sawStatus = true
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1})
	})

	change := &model.PullRequestChange{
		ChangeProject: &model.Project{Name: "org/repo"},
		Number:        "7",
		PatchsetID:    "deadbeef",
	}
	err := a.Report(t.Context(), change, model.ReporterAction{Name: "status", Context: "ci/conveyor"}, model.ResultSuccess, "https://ci.example.com/7")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !sawStatus {
		t.Fatalf("expected a POST to the commit statuses endpoint")
	}
}

func TestGetChangesDependingOnFiltersByBodyReference(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls") && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]map[string]any{
				{"number": 1, "body": "depends on #42"},
				{"number": 2, "body": "unrelated"},
			})
		case strings.Contains(r.URL.Path, "/pulls/1"):
			json.NewEncoder(w).Encode(map[string]any{"number": 1, "head": map[string]any{"sha": "a"}, "base": map[string]any{"ref": "main"}})
		case strings.Contains(r.URL.Path, "/reviews"), strings.Contains(r.URL.Path, "/statuses"), strings.Contains(r.URL.Path, "/files"):
			json.NewEncoder(w).Encode([]map[string]any{})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	})

	changes, err := a.GetChangesDependingOn(t.Context(), &model.Project{Name: "org/repo"}, "42")
	if err != nil {
		t.Fatalf("GetChangesDependingOn: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly one dependent change, got %d", len(changes))
	}
}
