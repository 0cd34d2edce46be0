package model

import "time"

// TimeDataEntry is one job's recent-duration history, the backing
// record for pkg/timedb's time database (spec §4.5, §6 "Persisted
// state").
type TimeDataEntry struct {
	JobName   string
	Samples   []time.Duration
	Successes int
	Failures  int
}
