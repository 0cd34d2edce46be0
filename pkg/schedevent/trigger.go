// Package schedevent defines the three event families the scheduler
// loop consumes, each processed off its own strictly prioritized FIFO
// (spec §4.1, §5): management events first, then result events, then
// trigger events. Every family is a sealed sum type, following the
// same isX() sealing idiom as model.Change.
package schedevent

import "github.com/conveyor-ci/conveyor/pkg/model"

// TriggerEvent is an event arriving from a source connection,
// reporting something a human or the source platform did.
type TriggerEvent interface {
	// EventType names the trigger filter match key (e.g.
	// "patchset-created", "comment-added").
	EventType() string
	// Project is the project the event concerns.
	Project() *model.Project
	isTriggerEvent()
}

// PatchsetCreatedEvent reports a new or updated pull/merge request
// patchset.
type PatchsetCreatedEvent struct {
	ChangeProject *model.Project
	Change        *model.PullRequestChange
}

func (e *PatchsetCreatedEvent) EventType() string      { return "patchset-created" }
func (e *PatchsetCreatedEvent) Project() *model.Project { return e.ChangeProject }
func (e *PatchsetCreatedEvent) isTriggerEvent()        {}

// CommentAddedEvent reports a new comment on a pull/merge request,
// which may carry an approval vote (spec §4.2).
type CommentAddedEvent struct {
	ChangeProject *model.Project
	Change        *model.PullRequestChange
	Comment       string
	Author        string
}

func (e *CommentAddedEvent) EventType() string      { return "comment-added" }
func (e *CommentAddedEvent) Project() *model.Project { return e.ChangeProject }
func (e *CommentAddedEvent) isTriggerEvent()        {}

// ChangeMergedEvent reports that a pull/merge request was merged by
// the source platform, outside of any pipeline this scheduler ran.
type ChangeMergedEvent struct {
	ChangeProject *model.Project
	Change        *model.PullRequestChange
}

func (e *ChangeMergedEvent) EventType() string      { return "change-merged" }
func (e *ChangeMergedEvent) Project() *model.Project { return e.ChangeProject }
func (e *ChangeMergedEvent) isTriggerEvent()        {}

// ChangeAbandonedEvent reports that a pull/merge request was closed
// without merging.
type ChangeAbandonedEvent struct {
	ChangeProject *model.Project
	Change        *model.PullRequestChange
}

func (e *ChangeAbandonedEvent) EventType() string      { return "change-abandoned" }
func (e *ChangeAbandonedEvent) Project() *model.Project { return e.ChangeProject }
func (e *ChangeAbandonedEvent) isTriggerEvent()        {}

// RefUpdatedEvent reports a branch or tag push.
type RefUpdatedEvent struct {
	ChangeProject *model.Project
	Change        *model.RefChange
}

func (e *RefUpdatedEvent) EventType() string      { return "ref-updated" }
func (e *RefUpdatedEvent) Project() *model.Project { return e.ChangeProject }
func (e *RefUpdatedEvent) isTriggerEvent()        {}

// CommitStatusEvent reports a status update on a commit posted by
// another reporter (e.g. a third-party CI), used by pipelines that
// gate on external statuses (spec §4.2).
type CommitStatusEvent struct {
	ChangeProject *model.Project
	Change        *model.PullRequestChange
	Status        model.Status
}

func (e *CommitStatusEvent) EventType() string      { return "commit-status" }
func (e *CommitStatusEvent) Project() *model.Project { return e.ChangeProject }
func (e *CommitStatusEvent) isTriggerEvent()        {}

// TimerEvent reports a cron-scheduled periodic trigger firing,
// independent of any source platform activity (spec §4.9).
type TimerEvent struct {
	ChangeProject *model.Project
	Change        *model.RefChange
}

func (e *TimerEvent) EventType() string       { return "timer" }
func (e *TimerEvent) Project() *model.Project { return e.ChangeProject }
func (e *TimerEvent) isTriggerEvent()         {}

var (
	_ TriggerEvent = (*PatchsetCreatedEvent)(nil)
	_ TriggerEvent = (*CommentAddedEvent)(nil)
	_ TriggerEvent = (*ChangeMergedEvent)(nil)
	_ TriggerEvent = (*ChangeAbandonedEvent)(nil)
	_ TriggerEvent = (*RefUpdatedEvent)(nil)
	_ TriggerEvent = (*CommitStatusEvent)(nil)
	_ TriggerEvent = (*TimerEvent)(nil)
)
