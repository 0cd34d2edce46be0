// Package executor is the scheduler's contract for submitting a build
// to a remote worker and receiving its lifecycle back asynchronously.
// The scheduler never runs builds itself (spec §4.4); it only tracks
// state transitions reported to it.
package executor

import (
	"context"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// JobSpec is everything a remote executor needs to run one build.
type JobSpec struct {
	Build   *model.Build
	Job     *model.Job
	NodeSet *model.NodeSet
	Item    *model.QueueItem
}

// Dispatcher submits builds to, and cancels builds on, a remote
// execution backend. Implementations must be safe for concurrent use;
// the pipeline manager calls Submit from its single-threaded loop but
// Cancel may be called while other submissions are outstanding.
type Dispatcher interface {
	// Submit asks the backend to run spec.Build. It returns once the
	// request has been accepted, not once the build completes — that
	// outcome arrives later as a schedevent.BuildStartedEvent /
	// BuildCompletedEvent delivered through a Receiver.
	Submit(ctx context.Context, spec JobSpec) error
	// Cancel asks the backend to abort a build it previously accepted.
	// Canceling a build that already completed, or was never
	// submitted, is not an error.
	Cancel(ctx context.Context, buildUUID string) error
}
