// Package timedb persists per-job build duration history at
// <state_dir>/times/<job_name>.json, one file per job name, and
// estimates a job's expected duration from its recent samples —
// the estimate pipeline.Manager stamps onto a build when it dispatches
// it (spec §4.5).
//
// Grounded on original_source's zuul/scheduler.py use of
// time_database.getEstimatedTime/update around _doBuildStartedEvent/
// _doBuildCompletedEvent; the database implementation itself
// (zuul/model.py:TimeDataBase) isn't in the retrieval pack, so the
// on-disk shape here is this module's own, kept deliberately simple:
// JSON rather than the original's pickle, since the teacher's stack
// has no pickle-equivalent and JSON is the idiomatic Go default.
package timedb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// maxSamples bounds each job's history so estimates track recent
// behavior rather than averaging over a job's entire lifetime.
const maxSamples = 10

// DB is a process-wide handle on the time database directory. Reads
// and writes are serialized by mu; the spec calls this out explicitly
// as global mutable state that must be owned behind a typed handle.
type DB struct {
	dir     string
	mu      sync.Mutex
	entries map[string]*model.TimeDataEntry
}

// Open loads every existing "<job>.json" file under dir (created if
// missing) into memory.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("timedb: creating %s: %w", dir, err)
	}
	db := &DB{dir: dir, entries: make(map[string]*model.TimeDataEntry)}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("timedb: listing %s: %w", dir, err)
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("timedb: reading %s: %w", path, err)
		}
		var entry model.TimeDataEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("timedb: parsing %s: %w", path, err)
		}
		db.entries[entry.JobName] = &entry
	}
	return db, nil
}

// GetEstimatedTime returns the mean of jobName's recorded samples, or
// ok=false if no samples exist yet.
func (db *DB) GetEstimatedTime(jobName string) (estimate time.Duration, ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	entry := db.entries[jobName]
	if entry == nil || len(entry.Samples) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, s := range entry.Samples {
		total += s
	}
	return total / time.Duration(len(entry.Samples)), true
}

// Update records a completed build's duration for jobName, keeping
// only the most recent maxSamples, and persists the entry to disk.
func (db *DB) Update(jobName string, duration time.Duration, result model.Result) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	entry := db.entries[jobName]
	if entry == nil {
		entry = &model.TimeDataEntry{JobName: jobName}
		db.entries[jobName] = entry
	}

	entry.Samples = append(entry.Samples, duration)
	if len(entry.Samples) > maxSamples {
		entry.Samples = entry.Samples[len(entry.Samples)-maxSamples:]
	}
	if result == model.ResultSuccess {
		entry.Successes++
	} else {
		entry.Failures++
	}

	return db.persist(entry)
}

func (db *DB) persist(entry *model.TimeDataEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("timedb: encoding entry for %s: %w", entry.JobName, err)
	}
	path := filepath.Join(db.dir, entry.JobName+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("timedb: writing %s: %w", path, err)
	}
	return nil
}
