package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

type fakeScheduler struct {
	events       []schedevent.ManagementEvent
	paused       bool
	resumeCalled bool
}

func (f *fakeScheduler) EnqueueManagement(ctx context.Context, ev schedevent.ManagementEvent) error {
	f.events = append(f.events, ev)
	switch e := ev.(type) {
	case *schedevent.PromoteEvent:
		e.NotFoundIDs = []string{"missing"}
	}
	ev.Done(nil)
	return ev.Wait()
}

func (f *fakeScheduler) Pause()  { f.paused = true }
func (f *fakeScheduler) Resume() { f.resumeCalled = true }

func newTestServer(t *testing.T) (*fakeScheduler, *Client, context.Context) {
	t.Helper()
	sched := &fakeScheduler{}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(sched, nil, zap.NewNop().Sugar(), cancel)

	sock := filepath.Join(t.TempDir(), "control.sock")
	if err := srv.Listen(sock); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	return sched, NewClient(sock), ctx
}

func TestClientReconfigureReachesScheduler(t *testing.T) {
	sched, client, _ := newTestServer(t)
	if err := client.Reconfigure(context.Background()); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if len(sched.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sched.events))
	}
	if _, ok := sched.events[0].(*schedevent.ReconfigureEvent); !ok {
		t.Fatalf("expected a ReconfigureEvent, got %T", sched.events[0])
	}
}

func TestClientPromoteReturnsNotFoundIDs(t *testing.T) {
	_, client, _ := newTestServer(t)
	notFound, err := client.Promote(context.Background(), "t1", "check", []string{"1", "2"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(notFound) != 1 || notFound[0] != "missing" {
		t.Fatalf("unexpected notFound: %v", notFound)
	}
}

func TestClientPauseAndResume(t *testing.T) {
	sched, client, _ := newTestServer(t)
	if err := client.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !sched.paused {
		t.Fatal("expected scheduler to be paused")
	}
	if err := client.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !sched.resumeCalled {
		t.Fatal("expected scheduler to be resumed")
	}
}

func TestClientExitCancelsServerContext(t *testing.T) {
	_, client, serverCtx := newTestServer(t)
	done := make(chan struct{})
	go func() {
		_ = client.Exit(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Exit to return")
	}
	select {
	case <-serverCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Exit to cancel the server context")
	}
}
