package source

import (
	"context"
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

type recordingAdapter struct {
	name    string
	reports []model.Result
}

func (a *recordingAdapter) Name() string { return a.name }
func (a *recordingAdapter) GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error) {
	return nil, nil
}
func (a *recordingAdapter) GetProject(ctx context.Context, name string) (*model.Project, error) {
	return nil, nil
}
func (a *recordingAdapter) GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error) {
	return nil, nil
}
func (a *recordingAdapter) GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error) {
	return nil, nil
}
func (a *recordingAdapter) CanMerge(ctx context.Context, change model.Change) (bool, error) {
	return true, nil
}
func (a *recordingAdapter) Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error {
	a.reports = append(a.reports, result)
	return nil
}

func testChange(number string) model.Change {
	return &model.PullRequestChange{Number: number, PatchsetID: "s1"}
}

func TestCachingAdapterSkipsRepeatedIdenticalReport(t *testing.T) {
	inner := &recordingAdapter{name: "gh"}
	cached := NewCachingAdapter(inner)
	change := testChange("1")
	action := model.ReporterAction{Name: "status", Context: "ci/conveyor/check"}

	for i := 0; i < 3; i++ {
		if err := cached.Report(t.Context(), change, action, model.ResultSuccess, ""); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	if len(inner.reports) != 1 {
		t.Fatalf("expected exactly 1 underlying report call, got %d", len(inner.reports))
	}
}

func TestCachingAdapterReportsAgainWhenResultChanges(t *testing.T) {
	inner := &recordingAdapter{name: "gh"}
	cached := NewCachingAdapter(inner)
	change := testChange("1")
	action := model.ReporterAction{Name: "status", Context: "ci/conveyor/check"}

	if err := cached.Report(t.Context(), change, action, model.ResultFailure, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := cached.Report(t.Context(), change, action, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}

	if len(inner.reports) != 2 {
		t.Fatalf("expected 2 underlying report calls for a changed result, got %d", len(inner.reports))
	}
}

func TestCachingAdapterTreatsDifferentActionsIndependently(t *testing.T) {
	inner := &recordingAdapter{name: "gh"}
	cached := NewCachingAdapter(inner)
	change := testChange("1")

	statusAction := model.ReporterAction{Name: "status", Context: "ci/conveyor/check"}
	commentAction := model.ReporterAction{Name: "comment", Context: "ci/conveyor/check"}

	if err := cached.Report(t.Context(), change, statusAction, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := cached.Report(t.Context(), change, commentAction, model.ResultSuccess, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}

	if len(inner.reports) != 2 {
		t.Fatalf("expected separate actions to each report once, got %d", len(inner.reports))
	}
}

func TestCachingAdapterPassesThroughOtherMethodsUnchanged(t *testing.T) {
	inner := &recordingAdapter{name: "gh"}
	cached := NewCachingAdapter(inner)

	if cached.Name() != "gh" {
		t.Fatalf("Name() = %q, want gh", cached.Name())
	}
	ok, err := cached.CanMerge(t.Context(), testChange("1"))
	if err != nil || !ok {
		t.Fatalf("CanMerge passthrough failed: ok=%v err=%v", ok, err)
	}
}
