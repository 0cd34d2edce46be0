package model

import "time"

// BuildState is a Build's lifecycle stage, independent of its
// terminal Result (spec §3: created on dispatch; Launching -> Started
// -> Completed; cancellable from any non-terminal state).
type BuildState string

const (
	BuildLaunching BuildState = "launching"
	BuildStarted   BuildState = "started"
	BuildCompleted BuildState = "completed"
)

// Result is a Build's terminal outcome. The empty Result means the
// build has not completed.
type Result string

const (
	ResultNone             Result = ""
	ResultSuccess          Result = "SUCCESS"
	ResultFailure          Result = "FAILURE"
	ResultPostFailure      Result = "POST_FAILURE"
	ResultTimedOut         Result = "TIMED_OUT"
	ResultMergerFailure    Result = "MERGER_FAILURE"
	ResultRetryLimit       Result = "RETRY_LIMIT"
	ResultUnreachable      Result = "RESULT_UNREACHABLE"
	ResultAborted          Result = "RESULT_ABORTED"
	ResultCanceled         Result = "CANCELED"
)

// IsTerminal reports whether r represents a completed build, for the
// mutex handler's "held build has a terminal result" reclaim check.
func (r Result) IsTerminal() bool { return r != ResultNone }

// IsRetryable reports whether a build ending in r, with no prior
// cancellation, should be treated as retryable transient failure per
// spec §7.
func (r Result) IsRetryable() bool {
	return r == ResultUnreachable || r == ResultAborted
}

// Build is one job's execution record for one BuildSet.
type Build struct {
	Job          *Job
	BuildSet     *BuildSet
	UUID         string
	State        BuildState
	Result       Result
	StartTime    time.Time
	EndTime      time.Time
	LaunchTime   time.Time
	NodeLabels   []string
	NodeName     string
	EstimatedTime time.Duration
	Canceled     bool // set when cancellation was requested before completion
}

// NewBuild creates a Build in the Launching state, as dispatched by
// the pipeline manager. launchTime is passed in explicitly so callers
// can inject a deterministic clock in tests.
func NewBuild(job *Job, bs *BuildSet, uuid string, launchTime time.Time) *Build {
	return &Build{
		Job:        job,
		BuildSet:   bs,
		UUID:       uuid,
		State:      BuildLaunching,
		LaunchTime: launchTime,
	}
}

// MergeState holds the outcome of a speculative merge attempt.
type MergeState struct {
	Attempted    bool
	Succeeded    bool
	MergedCommit string
	Files        []string
	RepoState    string
}

// BuildSet holds one speculative-merge attempt's output and the
// job_name -> Build mapping for a QueueItem. Only an item's current
// BuildSet is live; prior ones are immutable history (spec §3).
type BuildSet struct {
	Item     *QueueItem
	Merge    MergeState
	Builds   map[string]*Build // job name -> Build
	NodeSets map[string]*NodeSet
}

// NewBuildSet creates a fresh, empty BuildSet for item. Creating a new
// BuildSet and assigning it as item.CurrentBuildSet is how "reset on
// replace" (spec §3 invariant) is performed; the prior BuildSet is left
// reachable only through whatever held a reference to it (build
// history), never mutated afterward.
func NewBuildSet(item *QueueItem) *BuildSet {
	return &BuildSet{
		Item:     item,
		Builds:   make(map[string]*Build),
		NodeSets: make(map[string]*NodeSet),
	}
}

// GetBuild returns the Build for job name, or nil.
func (bs *BuildSet) GetBuild(jobName string) *Build {
	return bs.Builds[jobName]
}

// AddBuild registers a newly dispatched build.
func (bs *BuildSet) AddBuild(b *Build) {
	bs.Builds[b.Job.Name] = b
}

// RemoveBuild drops a build from the set (used when reconfigure finds
// no matching job in the new tree).
func (bs *BuildSet) RemoveBuild(jobName string) {
	delete(bs.Builds, jobName)
}

// IsCurrent reports whether bs is still its item's live build set —
// the check result/merge processing uses to decide whether an event
// is stale (spec §4.5, §8).
func (bs *BuildSet) IsCurrent() bool {
	return bs.Item != nil && bs.Item.CurrentBuildSet == bs
}

// AllComplete reports whether every build in the set has a terminal
// result.
func (bs *BuildSet) AllComplete() bool {
	for _, b := range bs.Builds {
		if !b.Result.IsTerminal() {
			return false
		}
	}
	return true
}

// AllSuccessful reports whether every build succeeded.
func (bs *BuildSet) AllSuccessful() bool {
	for _, b := range bs.Builds {
		if b.Result != ResultSuccess {
			return false
		}
	}
	return true
}

// FirstFailure returns the first build (by job name) with a
// non-success terminal result, for "first failing job" reporting
// (spec §7).
func (bs *BuildSet) FirstFailure() *Build {
	var found *Build
	for _, b := range bs.Builds {
		if b.Result.IsTerminal() && b.Result != ResultSuccess {
			if found == nil || b.Job.Name < found.Job.Name {
				found = b
			}
		}
	}
	return found
}
