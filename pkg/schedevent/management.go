package schedevent

// ManagementEvent is a control-plane request: reconfigure, promote, or
// manually re-run a queued change. Management events are processed
// ahead of result and trigger events (spec §4.1) and, unlike those two
// families, the submitter may need to block until the scheduler has
// actually applied the request — so every ManagementEvent carries a
// completion signal.
//
// Grounded on zuul's ManagementEvent.done()/exception() pairing: the
// scheduler passes the outcome (nil on success) to Done, which records
// it and then closes done; a
// caller that only cares about fire-and-forget semantics can ignore
// Wait entirely.
type ManagementEvent interface {
	// Done reports that the scheduler finished processing the event,
	// successfully or not. Safe to call at most once.
	Done(err error)
	// Wait blocks until Done has been called and returns the error it
	// was given, if any. Safe to call from any number of goroutines.
	Wait() error
	isManagementEvent()
}

// completion is embedded by every concrete ManagementEvent to provide
// the Done/Wait completion signal without repeating the channel
// plumbing in each variant.
type completion struct {
	done chan struct{}
	err  *error
}

func newCompletion() completion {
	return completion{done: make(chan struct{}), err: new(error)}
}

func (c completion) Done(err error) {
	*c.err = err
	close(c.done)
}

func (c completion) Wait() error {
	<-c.done
	return *c.err
}

// ReconfigureEvent requests a full re-read and recompilation of every
// tenant's configuration (spec §4.6).
type ReconfigureEvent struct {
	completion
}

func NewReconfigureEvent() *ReconfigureEvent {
	return &ReconfigureEvent{completion: newCompletion()}
}
func (e *ReconfigureEvent) isManagementEvent() {}

// TenantReconfigureEvent requests recompilation of a single tenant's
// configuration (spec §4.6).
type TenantReconfigureEvent struct {
	completion
	Tenant string
}

func NewTenantReconfigureEvent(tenant string) *TenantReconfigureEvent {
	return &TenantReconfigureEvent{completion: newCompletion(), Tenant: tenant}
}
func (e *TenantReconfigureEvent) isManagementEvent() {}

// PromoteEvent requests that the named changes be moved to the head
// of a pipeline's shared queue (spec §4.3, §6).
type PromoteEvent struct {
	completion
	Tenant       string
	Pipeline     string
	ChangeIDs    []string
	NotFoundIDs  []string // filled in by the handler before Done
}

func NewPromoteEvent(tenant, pipeline string, changeIDs []string) *PromoteEvent {
	return &PromoteEvent{completion: newCompletion(), Tenant: tenant, Pipeline: pipeline, ChangeIDs: changeIDs}
}
func (e *PromoteEvent) isManagementEvent() {}

// EnqueueEvent requests that a change already queued in a pipeline be
// run again from scratch: the scheduler gives its queue item a fresh
// build set (spec §6, e.g. "recheck" or "re-run gate without a new
// patchset"). A change that is not already queued in the pipeline is
// reported as an error; this event does not add a change to a queue.
type EnqueueEvent struct {
	completion
	Tenant    string
	Pipeline  string
	ChangeKey string
}

func NewEnqueueEvent(tenant, pipeline, changeKey string) *EnqueueEvent {
	return &EnqueueEvent{completion: newCompletion(), Tenant: tenant, Pipeline: pipeline, ChangeKey: changeKey}
}
func (e *EnqueueEvent) isManagementEvent() {}

var (
	_ ManagementEvent = (*ReconfigureEvent)(nil)
	_ ManagementEvent = (*TenantReconfigureEvent)(nil)
	_ ManagementEvent = (*PromoteEvent)(nil)
	_ ManagementEvent = (*EnqueueEvent)(nil)
)
