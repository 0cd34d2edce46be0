package schedevent

import (
	"errors"
	"testing"
	"time"
)

func TestManagementEventWaitBlocksUntilDone(t *testing.T) {
	ev := NewReconfigureEvent()
	result := make(chan error, 1)
	go func() { result <- ev.Wait() }()

	select {
	case <-result:
		t.Fatalf("Wait returned before Done was called")
	case <-time.After(20 * time.Millisecond):
	}

	ev.Done(nil)
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Done")
	}
}

func TestManagementEventWaitPropagatesError(t *testing.T) {
	ev := NewTenantReconfigureEvent("tenant1")
	want := errors.New("layout lock held")
	ev.Done(want)
	if got := ev.Wait(); got != want {
		t.Fatalf("Wait() = %v, want %v", got, want)
	}
}

func TestPromoteEventCarriesNotFoundIDs(t *testing.T) {
	ev := NewPromoteEvent("tenant1", "gate", []string{"1", "2"})
	ev.NotFoundIDs = []string{"2"}
	ev.Done(nil)
	if err := ev.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev.NotFoundIDs) != 1 || ev.NotFoundIDs[0] != "2" {
		t.Fatalf("expected NotFoundIDs == [2], got %v", ev.NotFoundIDs)
	}
}
