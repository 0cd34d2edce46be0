package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BoundedDispatcher wraps a Dispatcher, limiting how many builds may
// be outstanding (submitted but not yet completed) at once — the
// scheduler's own throttle on top of whatever capacity the backend
// enforces itself (spec §5: dispatch is bounded by a configured
// concurrency limit, independent of node availability).
//
// The semaphore slot acquired by Submit is held until the caller
// reports the build finished via Release; Submit only waits for
// acceptance, not completion, so the bound would be meaningless if the
// slot were freed as soon as Submit returned.
type BoundedDispatcher struct {
	inner Dispatcher
	sem   *semaphore.Weighted

	mu   sync.Mutex
	held map[string]struct{}
}

// NewBoundedDispatcher wraps inner so that at most max builds are
// outstanding concurrently.
func NewBoundedDispatcher(inner Dispatcher, max int64) *BoundedDispatcher {
	return &BoundedDispatcher{inner: inner, sem: semaphore.NewWeighted(max), held: make(map[string]struct{})}
}

func (d *BoundedDispatcher) Submit(ctx context.Context, spec JobSpec) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := d.inner.Submit(ctx, spec); err != nil {
		d.sem.Release(1)
		return err
	}
	d.mu.Lock()
	d.held[spec.Build.UUID] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *BoundedDispatcher) Cancel(ctx context.Context, buildUUID string) error {
	return d.inner.Cancel(ctx, buildUUID)
}

// Release frees the slot held for buildUUID. Called once a build's
// terminal result has been processed; releasing a build that holds no
// slot (never submitted through this dispatcher, or already released)
// is a no-op.
func (d *BoundedDispatcher) Release(buildUUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.held[buildUUID]; ok {
		delete(d.held, buildUUID)
		d.sem.Release(1)
	}
}
