package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

type fakeDispatcher struct {
	inFlight int32
	maxSeen  int32
	block    chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{block: make(chan struct{})}
}

func (f *fakeDispatcher) Submit(ctx context.Context, spec JobSpec) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}
	return nil
}

func (f *fakeDispatcher) Cancel(ctx context.Context, buildUUID string) error { return nil }

func buildSpec(uuid string) JobSpec {
	return JobSpec{Build: &model.Build{UUID: uuid}, Job: &model.Job{Name: "unit"}}
}

func TestBoundedDispatcherLimitsOutstandingBuilds(t *testing.T) {
	fake := newFakeDispatcher()
	d := NewBoundedDispatcher(fake, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := d.Submit(ctx, buildSpec(id)); err != nil {
			t.Fatalf("Submit(%s) = %v", id, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- d.Submit(ctx, buildSpec("c")) }()

	select {
	case <-done:
		t.Fatalf("expected third Submit to block while two builds are outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	d.Release("a")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Submit did not unblock after Release")
	}

	if fake.maxSeen > 2 {
		t.Fatalf("observed %d submissions in flight, want at most 2", fake.maxSeen)
	}
}

func TestBoundedDispatcherReleaseIsIdempotent(t *testing.T) {
	fake := newFakeDispatcher()
	d := NewBoundedDispatcher(fake, 1)
	ctx := context.Background()

	if err := d.Submit(ctx, buildSpec("a")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Release("a")
	d.Release("a") // must not panic or over-release the semaphore

	if err := d.Submit(ctx, buildSpec("b")); err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
}
