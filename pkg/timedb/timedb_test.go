package timedb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

func TestGetEstimatedTimeIsFalseForUnknownJob(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := db.GetEstimatedTime("never-run"); ok {
		t.Fatal("expected ok=false for a job with no recorded samples")
	}
}

func TestUpdateThenGetEstimatedTimeAveragesSamples(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Update("build-image", 10*time.Second, model.ResultSuccess); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := db.Update("build-image", 20*time.Second, model.ResultSuccess); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok := db.GetEstimatedTime("build-image")
	if !ok {
		t.Fatal("expected ok=true after recording samples")
	}
	if want := 15 * time.Second; got != want {
		t.Fatalf("estimate = %v, want %v", got, want)
	}
}

func TestUpdateTracksSuccessAndFailureCounts(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Update("unit-tests", 5*time.Second, model.ResultSuccess); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := db.Update("unit-tests", 5*time.Second, model.ResultFailure); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	entry := reopened.entries["unit-tests"]
	if entry == nil {
		t.Fatal("expected a persisted entry for unit-tests")
	}
	if entry.Successes != 1 || entry.Failures != 1 {
		t.Fatalf("got successes=%d failures=%d, want 1/1", entry.Successes, entry.Failures)
	}
}

func TestUpdateCapsSampleHistoryAtMaxSamples(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < maxSamples+5; i++ {
		if err := db.Update("flaky", time.Duration(i+1)*time.Second, model.ResultSuccess); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	entry := db.entries["flaky"]
	if len(entry.Samples) != maxSamples {
		t.Fatalf("len(Samples) = %d, want %d", len(entry.Samples), maxSamples)
	}
	// oldest samples should have been dropped, keeping the most recent run.
	if entry.Samples[len(entry.Samples)-1] != time.Duration(maxSamples+5)*time.Second {
		t.Fatalf("newest sample missing from tail: %v", entry.Samples)
	}
}

func TestOpenReloadsPersistedEntriesFromDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Update("lint", 3*time.Second, model.ResultSuccess); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := filepath.Glob(filepath.Join(dir, "*.json")); err != nil {
		t.Fatalf("Glob: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	got, ok := reopened.GetEstimatedTime("lint")
	if !ok || got != 3*time.Second {
		t.Fatalf("GetEstimatedTime after reopen = %v, %v, want 3s, true", got, ok)
	}
}
