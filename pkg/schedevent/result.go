package schedevent

import "github.com/conveyor-ci/conveyor/pkg/model"

// ResultEvent reports the outcome of work the scheduler itself
// dispatched: a build, a merge, or a node request. The pipeline
// manager matches each one against the still-live QueueItem/BuildSet
// it was issued for and drops it as stale otherwise (spec §4.5, §8).
type ResultEvent interface {
	isResultEvent()
}

// BuildStartedEvent reports that a dispatched build began running on
// a node.
type BuildStartedEvent struct {
	BuildUUID string
	StartTime int64 // unix seconds; the executor's clock, not ours
}

func (e *BuildStartedEvent) isResultEvent() {}

// BuildCompletedEvent reports a dispatched build's terminal result.
type BuildCompletedEvent struct {
	BuildUUID string
	Result    model.Result
	EndTime   int64
}

func (e *BuildCompletedEvent) isResultEvent() {}

// MergeCompletedEvent reports the outcome of a speculative merge
// request issued against a BuildSet.
type MergeCompletedEvent struct {
	BuildSet *model.BuildSet
	Merge    model.MergeState
}

func (e *MergeCompletedEvent) isResultEvent() {}

// NodesProvisionedEvent reports that a node request for a BuildSet's
// job has been fulfilled (or definitively failed).
type NodesProvisionedEvent struct {
	BuildSet *model.BuildSet
	JobName  string
	NodeSet  *model.NodeSet // nil on failure
	Err      error
}

func (e *NodesProvisionedEvent) isResultEvent() {}

var (
	_ ResultEvent = (*BuildStartedEvent)(nil)
	_ ResultEvent = (*BuildCompletedEvent)(nil)
	_ ResultEvent = (*MergeCompletedEvent)(nil)
	_ ResultEvent = (*NodesProvisionedEvent)(nil)
)
