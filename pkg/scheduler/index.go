package scheduler

import (
	"context"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/executor"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

// buildRecord is what the scheduler needs to route a result event
// arriving with nothing but a UUID back to its Build and the manager
// responsible for it.
type buildRecord struct {
	build      *model.Build
	managerKey string
}

// indexingDispatcher wraps a pipeline's real executor.Dispatcher,
// recording every submitted build in the scheduler's uuid -> build
// index so later BuildStartedEvent/BuildCompletedEvent values — which
// carry only a UUID — can be resolved back to their model.Build and
// owning pipeline.
type indexingDispatcher struct {
	inner      executor.Dispatcher
	managerKey string

	mu    *sync.Mutex
	index map[string]buildRecord
}

func (d *indexingDispatcher) Submit(ctx context.Context, spec executor.JobSpec) error {
	if err := d.inner.Submit(ctx, spec); err != nil {
		return err
	}
	d.mu.Lock()
	d.index[spec.Build.UUID] = buildRecord{build: spec.Build, managerKey: d.managerKey}
	d.mu.Unlock()
	return nil
}

func (d *indexingDispatcher) Cancel(ctx context.Context, buildUUID string) error {
	return d.inner.Cancel(ctx, buildUUID)
}
