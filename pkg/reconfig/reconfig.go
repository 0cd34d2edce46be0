// Package reconfig recompiles tenant configuration and migrates every
// live queue item onto the newly compiled pipelines in place, rather
// than restarting them from scratch (spec §4.6).
package reconfig

import (
	"context"
	"fmt"

	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Loader compiles tenant configuration from its source of truth (a
// config repository, on-disk YAML, or similar).
type Loader interface {
	// LoadAbide compiles every configured tenant.
	LoadAbide(ctx context.Context) (*model.Abide, error)
	// LoadTenant compiles a single tenant, for a tenant-scoped
	// reconfigure.
	LoadTenant(ctx context.Context, tenantName string) (*model.Tenant, error)
}

// ManagerFactory builds a fresh pipeline.Manager bound to pl,
// supplying whatever shared infrastructure (mutex handler, merger,
// dispatcher, node provisioner) the caller's scheduler owns.
type ManagerFactory func(tenant string, pl *model.Pipeline) *pipeline.Manager

// Result is the outcome of a reconfigure: the compiled tenant tree and
// one Manager per pipeline, keyed by "<tenant>/<pipeline>".
type Result struct {
	Abide    *model.Abide
	Managers map[string]*pipeline.Manager
}

// Reconfigure recompiles every tenant and migrates all live items from
// oldManagers into the freshly built managers.
func Reconfigure(ctx context.Context, loader Loader, oldManagers map[string]*pipeline.Manager, factory ManagerFactory) (*Result, error) {
	abide, err := loader.LoadAbide(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconfig: loading configuration: %w", err)
	}
	return migrate(abide, oldManagers, factory), nil
}

// TenantReconfigure recompiles a single tenant in place within abide
// and migrates that tenant's live items.
func TenantReconfigure(ctx context.Context, abide *model.Abide, tenantName string, loader Loader, oldManagers map[string]*pipeline.Manager, factory ManagerFactory) (*Result, error) {
	tenant, err := loader.LoadTenant(ctx, tenantName)
	if err != nil {
		return nil, fmt.Errorf("reconfig: loading tenant %s: %w", tenantName, err)
	}
	abide.Tenants[tenantName] = tenant
	return migrate(abide, oldManagers, factory), nil
}

func migrate(abide *model.Abide, oldManagers map[string]*pipeline.Manager, factory ManagerFactory) *Result {
	res := &Result{Abide: abide, Managers: make(map[string]*pipeline.Manager)}

	for tenantName, tenant := range abide.Tenants {
		for plName, pl := range tenant.Layout.Pipelines {
			key := tenantName + "/" + plName
			mgr := factory(tenantName, pl)
			res.Managers[key] = mgr

			old, ok := oldManagers[key]
			if !ok {
				continue
			}
			for _, item := range old.Pipeline.AllItems() {
				if _, err := mgr.ReEnqueueItem(item); err != nil {
					old.CancelJobs(context.Background(), item)
				}
			}
		}
	}

	// Any pipeline present in oldManagers but absent from the new
	// layout has been removed entirely; cancel whatever it still had
	// running rather than leaving orphaned builds nobody will ever
	// report on again.
	for key, old := range oldManagers {
		if _, ok := res.Managers[key]; ok {
			continue
		}
		for _, item := range old.Pipeline.AllItems() {
			old.CancelJobs(context.Background(), item)
		}
	}

	return res
}
