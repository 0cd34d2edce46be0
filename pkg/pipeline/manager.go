// Package pipeline implements the per-pipeline queue management that
// Zuul calls a "pipeline manager": deciding which changes a pipeline
// should enqueue, driving their speculative merges and job dispatch,
// and reacting to build/merge/node results (spec §4.3, §4.4, §4.5).
//
// A Manager's methods are meant to be called only from the scheduler's
// single run loop goroutine; nothing here is safe for concurrent use
// on its own (the mutex handler and node tracker it depends on are
// safe for concurrent use because other managers share them, not
// because a single Manager needs it).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/executor"
	"github.com/conveyor-ci/conveyor/pkg/matcher"
	"github.com/conveyor-ci/conveyor/pkg/merger"
	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/mutex"
	"github.com/conveyor-ci/conveyor/pkg/nodepool"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
	"github.com/conveyor-ci/conveyor/pkg/source"
)

// TimeEstimator supplies a job's historical average duration, letting
// a dispatched Build carry a best-guess runtime hint (spec §4.5,
// backed by pkg/timedb). Optional: a Manager with no estimator set
// simply leaves Build.EstimatedTime at its zero value.
type TimeEstimator interface {
	GetEstimatedTime(jobName string) (time.Duration, bool)
}

// Manager drives one pipeline's shared queues.
type Manager struct {
	Pipeline *model.Pipeline

	mutex      *mutex.Handler
	merger     *merger.Merger
	dispatcher executor.Dispatcher
	nodes      nodepool.Provisioner
	source     source.Adapter // nil disables reporting and Depends-On resolution
	log        *zap.SugaredLogger
	estimator  TimeEstimator

	uuidgen func() string
}

// New creates a Manager for pl, reporting outcomes through src (nil
// disables reporting and cross-project Depends-On resolution, for
// tests that don't exercise the source platform).
func New(pl *model.Pipeline, mh *mutex.Handler, mg *merger.Merger, dispatcher executor.Dispatcher, nodes nodepool.Provisioner, src source.Adapter, log *zap.SugaredLogger, uuidgen func() string) *Manager {
	return &Manager{Pipeline: pl, mutex: mh, merger: mg, dispatcher: dispatcher, nodes: nodes, source: src, log: log, uuidgen: uuidgen}
}

// SetTimeEstimator installs the job-duration estimator builds should
// consult when dispatched. Call before ProcessQueue starts dispatching
// jobs; nil disables the estimate.
func (m *Manager) SetTimeEstimator(e TimeEstimator) {
	m.estimator = e
}

// EventMatches reports whether event should cause this pipeline to
// act on change, per the OR of the pipeline's configured trigger
// filters (spec §4.2).
func (m *Manager) EventMatches(event schedevent.TriggerEvent, change model.Change) (bool, error) {
	for _, filter := range m.Pipeline.Triggers {
		ok, err := matcher.Matches(filter, event, change)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AddChangeOptions customizes one AddChange call (spec §4.3 step 1:
// "addChange(change, {enqueue_time?, quiet?, ignore_requirements?})").
type AddChangeOptions struct {
	// IgnoreRequirements skips the pipeline's Requirements gate and the
	// source adapter's own CanMerge check, for a manually forced
	// enqueue (e.g. "recheck").
	IgnoreRequirements bool
	// Quiet skips the start-of-pipeline report, for a change enqueued
	// only to satisfy another change's Depends-On ordering rather than
	// because it matched a trigger itself.
	Quiet bool
}

// AddChange enqueues change into whichever shared queue owns its
// project. If an item for the same logical change (ChangeKey) already
// sits in that queue, it is replaced — removeOldVersionsOfChange, so a
// new patchset supersedes rather than stacks behind the old one (spec
// §3 invariant, §8: "a newer patchset for an item already in a
// pipeline dequeues the old item before enqueuing the new one").
// Enqueuing the same (patchset, pipeline) a second time is a no-op
// that returns the existing item.
//
// Unless opts.IgnoreRequirements, change must satisfy the pipeline's
// Requirements and the source platform's own merge protections before
// it is accepted (spec §4.3 step 1). Before change itself is enqueued,
// every change it names in a Depends-On trailer is resolved through
// the source adapter and recursively enqueued ahead of it, so a
// dependent pipeline's speculative merge builds them in order (spec
// §4.3 step 2).
func (m *Manager) AddChange(change model.Change, now time.Time, opts AddChangeOptions) (*model.QueueItem, error) {
	return m.addChange(context.Background(), change, now, opts, make(map[string]bool))
}

func (m *Manager) addChange(ctx context.Context, change model.Change, now time.Time, opts AddChangeOptions, seen map[string]bool) (*model.QueueItem, error) {
	project := change.Project()
	queue := m.Pipeline.QueueFor(project)
	if queue == nil {
		return nil, schederrors.New(schederrors.ConfigurationError, nil,
			"pipeline %s has no shared queue configured for project %s", m.Pipeline.Name, project.Key())
	}

	key := project.Key() + "#" + change.ChangeKey()
	if seen[key] {
		return nil, nil
	}
	seen[key] = true

	if existing, _ := m.Pipeline.FindItem(change.ChangeKey()); existing != nil {
		if existing.Change.Identity() == change.Identity() {
			return existing, nil
		}
		m.removeOldVersionOfChange(existing)
	}

	if !opts.IgnoreRequirements {
		if len(m.Pipeline.Requirements) > 0 {
			ok, err := matcher.MatchesRequirements(m.Pipeline.Requirements, change)
			if err != nil {
				return nil, fmt.Errorf("pipeline: evaluating requirements for %s: %w", change.ChangeKey(), err)
			}
			if !ok {
				return nil, schederrors.New(schederrors.UserJobFailure, nil,
					"change %s does not satisfy pipeline %s requirements", change.ChangeKey(), m.Pipeline.Name)
			}
		}
		if m.source != nil {
			ok, err := m.source.CanMerge(ctx, change)
			if err != nil {
				m.log.Warnw("checking mergeability failed", "pipeline", m.Pipeline.Name, "change", change.ChangeKey(), "error", err)
			} else if !ok {
				return nil, schederrors.New(schederrors.UserJobFailure, nil,
					"change %s does not satisfy %s's own merge requirements", change.ChangeKey(), project.Key())
			}
		}
	}

	m.enqueueDependencies(ctx, change, now, opts, seen)

	item := &model.QueueItem{
		Change:      change,
		Pipeline:    m.Pipeline,
		JobTree:     model.NewJobTree(m.Pipeline.Jobs),
		EnqueueTime: now,
	}
	queue.Enqueue(item)
	item.ResetBuildSet()

	if !opts.Quiet {
		m.report(ctx, item, model.ResultNone)
	}
	m.enqueueDependents(ctx, change, now, opts, seen)
	return item, nil
}

// enqueueDependencies resolves change's Depends-On trailer, if any,
// through the source adapter and recursively enqueues each reference
// into this same pipeline ahead of change — SharedQueue.Enqueue always
// appends to the tail, so resolving and enqueuing dependencies first
// is what puts them ahead in queue order (spec §4.3 step 2, end-to-end
// scenario: "enqueues both; the build history is [A alone, B with A
// ahead]"). A dependency naming a project this pipeline doesn't
// configure is skipped, not an error: not every pipeline spans every
// project a Depends-On trailer could reference.
func (m *Manager) enqueueDependencies(ctx context.Context, change model.Change, now time.Time, opts AddChangeOptions, seen map[string]bool) {
	if m.source == nil {
		return
	}
	for _, dep := range change.DependsOn() {
		project := change.Project()
		if dep.Project != "" {
			p, err := m.source.GetProject(ctx, dep.Project)
			if err != nil {
				m.log.Warnw("resolving Depends-On project failed", "project", dep.Project, "error", err)
				continue
			}
			project = p
		}
		depChange, err := m.source.GetChange(ctx, project, dep.ChangeKey)
		if err != nil {
			m.log.Warnw("resolving Depends-On change failed", "change", dep.ChangeKey, "error", err)
			continue
		}
		if _, err := m.addChange(ctx, depChange, now, AddChangeOptions{Quiet: opts.Quiet}, seen); err != nil {
			m.log.Warnw("enqueuing Depends-On reference failed", "change", dep.ChangeKey, "error", err)
		}
	}
}

// enqueueDependents asks the source adapter which other open changes
// in change's project declare a Depends-On reference to it, and
// (recursively, cycle-guarded by seen) enqueues them too — the
// complement of enqueueDependencies: a change B that already named a
// not-yet-queued A in its description gets reconsidered once A itself
// is enqueued, rather than waiting for a fresh trigger event on B.
func (m *Manager) enqueueDependents(ctx context.Context, change model.Change, now time.Time, opts AddChangeOptions, seen map[string]bool) {
	if m.source == nil {
		return
	}
	dependents, err := m.source.GetChangesDependingOn(ctx, change.Project(), change.ChangeKey())
	if err != nil {
		m.log.Warnw("discovering dependent changes failed", "change", change.ChangeKey(), "error", err)
		return
	}
	for _, dependent := range dependents {
		if _, err := m.addChange(ctx, dependent, now, AddChangeOptions{Quiet: opts.Quiet}, seen); err != nil {
			m.log.Warnw("enqueuing discovered dependent change failed", "change", dependent.ChangeKey(), "error", err)
		}
	}
}

// report posts result for item's change through every one of the
// pipeline's configured reporters (spec §4.3, §7). A Manager with no
// source adapter wired — test doubles, mainly — is a silent no-op.
func (m *Manager) report(ctx context.Context, item *model.QueueItem, result model.Result) {
	if m.source == nil {
		return
	}
	for _, action := range m.Pipeline.Reporters {
		if err := m.source.Report(ctx, item.Change, action, result, item.Change.URL()); err != nil {
			m.log.Warnw("reporting result failed", "pipeline", m.Pipeline.Name, "change", item.Change.ChangeKey(), "action", action.Name, "result", result, "error", err)
		}
	}
}

// removeOldVersionOfChange cancels item's outstanding builds, releases
// any mutexes it held, and dequeues it.
func (m *Manager) removeOldVersionOfChange(item *model.QueueItem) {
	m.CancelJobs(context.Background(), item)
	if item.Queue != nil {
		item.Queue.Dequeue(item)
	}
}

// RemoveOldVersionsOfChange dequeues the pipeline's item for change's
// logical ChangeKey if it represents an older patchset than change
// itself (spec §4.2 step 3, run independent of whether the pipeline's
// trigger filters go on to match the new patchset).
func (m *Manager) RemoveOldVersionsOfChange(change model.Change) {
	existing, _ := m.Pipeline.FindItem(change.ChangeKey())
	if existing == nil || existing.Change.Identity() == change.Identity() {
		return
	}
	m.removeOldVersionOfChange(existing)
}

// RemoveAbandonedChange dequeues the pipeline's item for changeKey, if
// any, canceling its jobs first (spec §4.2: change-abandoned).
func (m *Manager) RemoveAbandonedChange(changeKey string) {
	item, _ := m.Pipeline.FindItem(changeKey)
	if item == nil {
		return
	}
	m.removeOldVersionOfChange(item)
}

// CancelJobs cancels every non-terminal build in item's current build
// set and releases any mutex each held, without dequeuing item.
func (m *Manager) CancelJobs(ctx context.Context, item *model.QueueItem) {
	bs := item.CurrentBuildSet
	if bs == nil {
		return
	}
	for _, b := range bs.Builds {
		if b.Result.IsTerminal() {
			continue
		}
		if err := m.dispatcher.Cancel(ctx, b.UUID); err != nil {
			m.log.Warnw("canceling build failed", "build", b.UUID, "error", err)
		}
		b.Canceled = true
		b.Result = model.ResultCanceled
		if b.Job.Mutex != "" {
			m.mutex.Release(b.Job.Mutex, b)
		}
	}
}

// Dequeue cancels item's running builds and removes it from its queue
// (spec §5, §8). It does not cancel the items behind it; callers that
// need that, because their speculative merges were built atop this
// change, call cascadeCancel first.
func (m *Manager) Dequeue(ctx context.Context, item *model.QueueItem) {
	queue := item.Queue
	if queue == nil {
		return
	}
	m.CancelJobs(ctx, item)
	queue.Dequeue(item)
}

// ReEnqueueItem migrates item — live in some other pipeline's queue
// before a reconfiguration replaced that pipeline — into this
// manager's pipeline, preserving its in-flight builds wherever the new
// job tree still names the same job, and dropping (without canceling
// remote work the new tree no longer has an opinion about) any build
// for a job that no longer exists (spec §4.6: "reconfiguration
// re-targets rather than restarts in-flight items").
func (m *Manager) ReEnqueueItem(item *model.QueueItem) (*model.QueueItem, error) {
	project := item.Change.Project()
	queue := m.Pipeline.QueueFor(project)
	if queue == nil {
		return nil, schederrors.New(schederrors.ConfigurationError, nil,
			"pipeline %s no longer configures project %s", m.Pipeline.Name, project.Key())
	}

	if item.Queue != nil {
		item.Queue.Dequeue(item)
	}

	newTree := model.NewJobTree(m.Pipeline.Jobs)
	if bs := item.CurrentBuildSet; bs != nil {
		for name := range bs.Builds {
			if _, ok := newTree.Job(name); !ok {
				bs.RemoveBuild(name)
			}
		}
	}
	item.JobTree = newTree
	item.Pipeline = m.Pipeline
	queue.Enqueue(item)
	return item, nil
}

// OnBuildCompleted applies a terminal build result reported for
// buildUUID. Stale results — for a BuildSet that is no longer its
// item's current one — are logged and dropped (spec §4.5, §8: "a
// result event for a build set that is no longer current is a no-op").
//
// A required job's failure on an AbortOnFirstFailure pipeline cancels
// the rest of the item's jobs, cascades to whatever is queued behind
// it, reports failure and dequeues immediately. Otherwise the item
// stays queued until queueDrained holds (every build in its build set
// is terminal and the job tree has no job left that could become
// ready), at which point it reports success or failure and dequeues
// (spec §4.3 dequeue triggers, §8).
func (m *Manager) OnBuildCompleted(build *model.Build, result model.Result, endTime time.Time) {
	build.Result = result
	build.State = model.BuildCompleted
	build.EndTime = endTime

	bs := build.BuildSet
	if bs == nil || !bs.IsCurrent() {
		m.log.Debugw("dropping stale build result", "build", build.UUID, "job", build.Job.Name)
		return
	}
	if build.Job.Mutex != "" {
		m.mutex.Release(build.Job.Mutex, build)
	}

	item := bs.Item
	ctx := context.Background()

	requiredFailure := result != model.ResultSuccess && build.Job.Required
	if requiredFailure && m.Pipeline.AbortOnFirstFailure {
		m.CancelJobs(ctx, item)
		m.cascadeCancel(item)
		m.report(ctx, item, model.ResultFailure)
		m.Dequeue(ctx, item)
		return
	}

	if !m.queueDrained(item, bs) {
		return
	}
	if bs.AllSuccessful() {
		m.report(ctx, item, model.ResultSuccess)
	} else {
		m.report(ctx, item, model.ResultFailure)
	}
	m.Dequeue(ctx, item)
}

// queueDrained reports whether item's current build set has nothing
// left to do: every dispatched build is terminal, and no further job
// becomes ready given what succeeded (spec §4.3: "all jobs complete").
// A job left unreachable because one of its dependencies failed counts
// as drained too — it will never be dispatched, so waiting for it
// would queue the item forever.
func (m *Manager) queueDrained(item *model.QueueItem, bs *model.BuildSet) bool {
	if !bs.AllComplete() {
		return false
	}
	satisfied := make(map[string]bool, len(bs.Builds))
	for name, b := range bs.Builds {
		if b.Result == model.ResultSuccess {
			satisfied[name] = true
		}
	}
	return len(item.JobTree.ReadyJobs(satisfied)) == 0
}

// cascadeCancel cancels jobs for every item behind item in its shared
// queue, for dependent pipelines whose speculative merges assumed the
// failed item would succeed.
func (m *Manager) cascadeCancel(item *model.QueueItem) {
	if item.Queue == nil || m.Pipeline.Manager != model.ManagerDependent {
		return
	}
	for _, behind := range item.Queue.ItemsFrom(item) {
		if behind == item {
			continue
		}
		m.CancelJobs(context.Background(), behind)
	}
}

// OnMergeCompleted records a merge result and, on failure, dequeues
// the item and cascades cancellation the same way a build failure does
// (spec §4.5: MERGER_FAILURE is dequeued like any other terminal
// pipeline failure).
func (m *Manager) OnMergeCompleted(item *model.QueueItem, bs *model.BuildSet, merge model.MergeState) {
	if bs != item.CurrentBuildSet {
		return
	}
	bs.Merge = merge
	if merge.Succeeded {
		return
	}
	item.MergeFailed = true
	m.cascadeCancel(item)
	m.Dequeue(context.Background(), item)
}

// Promote moves ids to the head of the pipeline's shared queue named
// queueName. Per the project's resolved policy: the promoted
// items keep whatever builds they already have running; any displaced
// item whose ancestor chain changed as a result has its in-flight
// builds canceled, since their speculative merges no longer reflect
// the new ordering (spec §6, open question resolved in project notes).
func (m *Manager) Promote(queueName string, ids []string) (promoted []*model.QueueItem, notFound []string, err error) {
	var queue *model.SharedQueue
	for _, q := range m.Pipeline.Queues {
		if q.Name == queueName {
			queue = q
			break
		}
	}
	if queue == nil {
		return nil, nil, schederrors.New(schederrors.ConfigurationError, nil, "pipeline %s has no queue named %s", m.Pipeline.Name, queueName)
	}

	before := make(map[*model.QueueItem]*model.QueueItem, queue.Len())
	for _, it := range queue.Items() {
		before[it] = it.ItemAhead
	}

	promoted, notFound = queue.Promote(nil, ids, func(it *model.QueueItem) string { return it.Change.ChangeKey() })
	if len(notFound) > 0 {
		return promoted, notFound, schederrors.New(schederrors.ConfigurationError, nil, "change id(s) not in queue %s: %v", queueName, notFound)
	}

	isPromoted := make(map[*model.QueueItem]bool, len(promoted))
	for _, it := range promoted {
		isPromoted[it] = true
	}
	for _, it := range queue.Items() {
		if isPromoted[it] {
			continue
		}
		if prevAhead, ok := before[it]; ok && prevAhead != it.ItemAhead {
			m.CancelJobs(context.Background(), it)
		}
	}
	return promoted, nil, nil
}

// ProcessQueue drives every item in every shared queue one step
// forward: requesting a speculative merge if none has been attempted,
// requesting nodes and dispatching newly-ready jobs once the merge has
// succeeded. It performs these steps inline, matching the single
// iteration of the scheduler's run loop that calls it (spec §5).
func (m *Manager) ProcessQueue(ctx context.Context) error {
	for _, queue := range m.Pipeline.Queues {
		for _, item := range queue.Items() {
			if err := m.processItem(ctx, item); err != nil {
				m.log.Errorw("processing queue item failed", "pipeline", m.Pipeline.Name, "change", item.Change.ChangeKey(), "error", err)
			}
		}
	}
	return nil
}

func (m *Manager) processItem(ctx context.Context, item *model.QueueItem) error {
	bs := item.CurrentBuildSet
	if bs == nil {
		bs = item.ResetBuildSet()
	}

	if !bs.Merge.Attempted {
		if m.merger == nil || m.merger.AreMergesOutstanding(bs) {
			return nil
		}
		if err := m.merger.MergeChanges(ctx, item, bs); err != nil {
			return fmt.Errorf("pipeline: merging %s: %w", item.Change.ChangeKey(), err)
		}
		m.OnMergeCompleted(item, bs, bs.Merge)
		if !bs.Merge.Succeeded {
			return nil
		}
	}
	if !bs.Merge.Succeeded {
		return nil
	}

	satisfied := make(map[string]bool, len(bs.Builds))
	for name, b := range bs.Builds {
		if b.Result == model.ResultSuccess {
			satisfied[name] = true
		}
	}
	for _, job := range item.JobTree.ReadyJobs(satisfied) {
		if bs.GetBuild(job.Name) != nil {
			continue
		}
		if err := m.dispatchJob(ctx, item, bs, job); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) dispatchJob(ctx context.Context, item *model.QueueItem, bs *model.BuildSet, job *model.Job) error {
	uuid := m.uuidgen()
	build := model.NewBuild(job, bs, uuid, time.Now())
	if m.estimator != nil {
		if est, ok := m.estimator.GetEstimatedTime(job.Name); ok {
			build.EstimatedTime = est
		}
	}
	if job.Mutex != "" && !m.mutex.Acquire(job.Mutex, build) {
		return nil // retried on a later ProcessQueue pass
	}
	bs.AddBuild(build)

	if m.nodes != nil {
		ns, err := m.nodes.RequestNodes(ctx, job.NodeLabels)
		if err != nil {
			build.Result = model.ResultUnreachable
			build.State = model.BuildCompleted
			if job.Mutex != "" {
				m.mutex.Release(job.Mutex, build)
			}
			return fmt.Errorf("pipeline: requesting nodes for job %s: %w", job.Name, err)
		}
		bs.NodeSets[job.Name] = ns
		build.NodeName = ns.Nodes[0].Name
	}

	build.State = model.BuildLaunching
	if err := m.dispatcher.Submit(ctx, executor.JobSpec{Build: build, Job: job, NodeSet: bs.NodeSets[job.Name], Item: item}); err != nil {
		build.Result = model.ResultUnreachable
		build.State = model.BuildCompleted
		if job.Mutex != "" {
			m.mutex.Release(job.Mutex, build)
		}
		return fmt.Errorf("pipeline: dispatching job %s: %w", job.Name, err)
	}
	return nil
}
