package reconfig

import (
	"context"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/executor"
	"github.com/conveyor-ci/conveyor/pkg/logging"
	"github.com/conveyor-ci/conveyor/pkg/merger"
	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/mutex"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

type nopGit struct{}

func (nopGit) Fetch(ctx context.Context, p *model.Project, refspec string) error { return nil }
func (nopGit) Reset(ctx context.Context, p *model.Project, ref string) error     { return nil }
func (nopGit) Merge(ctx context.Context, p *model.Project) (string, error)       { return "sha", nil }
func (nopGit) ChangedFiles(ctx context.Context, p *model.Project, base, head string) ([]string, error) {
	return nil, nil
}

type nopDispatcher struct{ canceled []string }

func (d *nopDispatcher) Submit(ctx context.Context, spec executor.JobSpec) error { return nil }
func (d *nopDispatcher) Cancel(ctx context.Context, buildUUID string) error {
	d.canceled = append(d.canceled, buildUUID)
	return nil
}

type nopProvisioner struct{}

func (nopProvisioner) RequestNodes(ctx context.Context, labels []string) (*model.NodeSet, error) {
	return &model.NodeSet{}, nil
}
func (nopProvisioner) ReturnNodeSet(ctx context.Context, ns *model.NodeSet) error { return nil }

type fakeLoader struct {
	abide *model.Abide
}

func (f *fakeLoader) LoadAbide(ctx context.Context) (*model.Abide, error) { return f.abide, nil }
func (f *fakeLoader) LoadTenant(ctx context.Context, name string) (*model.Tenant, error) {
	return f.abide.Tenants[name], nil
}

func buildPipeline(name string, proj *model.Project, jobs []*model.Job) *model.Pipeline {
	q := model.NewSharedQueue("q", []*model.Project{proj})
	return &model.Pipeline{Name: name, Queues: []*model.SharedQueue{q}, Manager: model.ManagerIndependent, Jobs: jobs}
}

func TestReconfigureMigratesLiveItemsPreservingRetainedBuilds(t *testing.T) {
	proj := &model.Project{CanonicalHostname: "github.com", Name: "org/repo"}
	log := logging.NewNop()
	dispatcher := &nopDispatcher{}

	oldPipeline := buildPipeline("check", proj, []*model.Job{{Name: "unit"}, {Name: "deploy"}})
	oldMgr := pipeline.New(oldPipeline, mutex.New(log), merger.New(nopGit{}), dispatcher, nopProvisioner{}, nil, log, func() string { return "u1" })

	change := &model.PullRequestChange{ChangeProject: proj, Number: "1", PatchsetID: "s1", Branch: "main"}
	item, err := oldMgr.AddChange(change, time.Now(), pipeline.AddChangeOptions{})
	if err != nil {
		t.Fatalf("AddChange: %v", err)
	}
	unitBuild := model.NewBuild(oldPipeline.Jobs[0], item.CurrentBuildSet, "unit-build", time.Now())
	item.CurrentBuildSet.AddBuild(unitBuild)
	deployBuild := model.NewBuild(oldPipeline.Jobs[1], item.CurrentBuildSet, "deploy-build", time.Now())
	item.CurrentBuildSet.AddBuild(deployBuild)

	oldManagers := map[string]*pipeline.Manager{"t1/check": oldMgr}

	newPipeline := buildPipeline("check", proj, []*model.Job{{Name: "unit"}}) // deploy dropped
	abide := model.NewAbide()
	tenant := &model.Tenant{Name: "t1", Layout: model.NewLayout()}
	tenant.Layout.Pipelines["check"] = newPipeline
	abide.Tenants["t1"] = tenant

	factory := func(tenantName string, pl *model.Pipeline) *pipeline.Manager {
		return pipeline.New(pl, mutex.New(log), merger.New(nopGit{}), dispatcher, nopProvisioner{}, nil, log, func() string { return "u2" })
	}

	result, err := Reconfigure(context.Background(), &fakeLoader{abide: abide}, oldManagers, factory)
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	newMgr := result.Managers["t1/check"]
	if newMgr == nil {
		t.Fatalf("expected a manager for t1/check")
	}
	if newPipeline.Queues[0].Len() != 1 {
		t.Fatalf("expected the migrated item to land in the new pipeline's queue, got %d items", newPipeline.Queues[0].Len())
	}
	migrated := newPipeline.Queues[0].Items()[0]
	if migrated.CurrentBuildSet.GetBuild("unit") == nil {
		t.Fatalf("expected the unit build to survive migration")
	}
	if migrated.CurrentBuildSet.GetBuild("deploy") != nil {
		t.Fatalf("expected the deploy build to be dropped since deploy no longer exists")
	}
	if migrated.Pipeline != newPipeline {
		t.Fatalf("expected migrated item to point at the new pipeline")
	}
}

func TestReconfigureCancelsItemsOfRemovedPipelines(t *testing.T) {
	proj := &model.Project{CanonicalHostname: "github.com", Name: "org/repo"}
	log := logging.NewNop()
	dispatcher := &nopDispatcher{}

	oldPipeline := buildPipeline("gate", proj, []*model.Job{{Name: "unit"}})
	oldMgr := pipeline.New(oldPipeline, mutex.New(log), merger.New(nopGit{}), dispatcher, nopProvisioner{}, nil, log, func() string { return "u1" })
	change := &model.PullRequestChange{ChangeProject: proj, Number: "1", PatchsetID: "s1", Branch: "main"}
	item, _ := oldMgr.AddChange(change, time.Now(), pipeline.AddChangeOptions{})
	b := model.NewBuild(oldPipeline.Jobs[0], item.CurrentBuildSet, "unit-build", time.Now())
	item.CurrentBuildSet.AddBuild(b)

	oldManagers := map[string]*pipeline.Manager{"t1/gate": oldMgr}

	abide := model.NewAbide()
	tenant := &model.Tenant{Name: "t1", Layout: model.NewLayout()} // gate pipeline removed entirely
	abide.Tenants["t1"] = tenant

	factory := func(tenantName string, pl *model.Pipeline) *pipeline.Manager {
		return pipeline.New(pl, mutex.New(log), merger.New(nopGit{}), dispatcher, nopProvisioner{}, nil, log, func() string { return "u2" })
	}

	_, err := Reconfigure(context.Background(), &fakeLoader{abide: abide}, oldManagers, factory)
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if len(dispatcher.canceled) != 1 || dispatcher.canceled[0] != "unit-build" {
		t.Fatalf("expected the removed pipeline's build to be canceled, got %v", dispatcher.canceled)
	}
}
