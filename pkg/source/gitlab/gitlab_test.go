package gitlab

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
	a, err := New("gitlab", "token", server.URL, "gitlab.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestGetProjectFetchesByName(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "org%2Frepo") && !strings.Contains(r.URL.Path, "org/repo") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "path_with_namespace": "org/repo"})
	})

	project, err := a.GetProject(t.Context(), "org/repo")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.Name != "org/repo" || project.CanonicalHostname != "gitlab.example.com" {
		t.Fatalf("unexpected project: %+v", project)
	}
}

func TestGetProjectSurfacesNotFoundAsTransient(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "404 Project Not Found"})
	})

	_, err := a.GetProject(t.Context(), "org/missing")
	if err == nil {
		t.Fatalf("expected an error for a missing project")
	}
	if kind := schederrors.KindOf(err); kind != schederrors.TransientExternal {
		t.Fatalf("expected a TransientExternal error, got %v", kind)
	}
}

func TestCanMergeReflectsMergeStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"iid":           5,
			"merge_status":  "can_be_merged",
			"target_branch": "main",
		})
	})

	change := &model.PullRequestChange{
		ChangeProject: &model.Project{Name: "org/repo"},
		Number:        "5",
	}
	ok, err := a.CanMerge(t.Context(), change)
	if err != nil {
		t.Fatalf("CanMerge: %v", err)
	}
	if !ok {
		t.Fatalf("expected mergeable")
	}
}

func TestReportCommentPostsNote(t *testing.T) {
	var sawBody bool
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/notes") && r.Method == http.MethodPost {
			sawBody = true
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1})
	})

	change := &model.PullRequestChange{
		ChangeProject: &model.Project{Name: "org/repo"},
		Number:        "5",
	}
	err := a.Report(t.Context(), change, model.ReporterAction{Name: "comment"}, model.ResultSuccess, "https://ci.example.com/1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !sawBody {
		t.Fatalf("expected a POST to the notes endpoint")
	}
}

func TestReportIgnoresNonPullRequestChanges(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for a non-merge-request change: %s", r.URL.Path)
	})

	change := &model.RefChange{ChangeProject: &model.Project{Name: "org/repo"}, Ref: "refs/heads/main"}
	if err := a.Report(t.Context(), change, model.ReporterAction{Name: "comment"}, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
}
