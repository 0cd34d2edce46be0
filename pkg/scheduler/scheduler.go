// Package scheduler implements the cooperative run loop at the heart
// of the system: one goroutine draining three strictly prioritized
// FIFOs — management events, then result events, then trigger events —
// and otherwise advancing every pipeline's queues one step (spec §4.1,
// §5). Grounded directly on Zuul's Scheduler.run, the closest thing
// the reference implementation has to a single source of truth for
// this ordering.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/executor"
	"github.com/conveyor-ci/conveyor/pkg/merger"
	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/mutex"
	"github.com/conveyor-ci/conveyor/pkg/nodepool"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/reconfig"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
	"github.com/conveyor-ci/conveyor/pkg/source"
	"github.com/conveyor-ci/conveyor/pkg/statsrecorder"
	"github.com/conveyor-ci/conveyor/pkg/timedb"
)

const idlePollInterval = 500 * time.Millisecond

// Dependencies bundles the shared infrastructure every pipeline
// manager the scheduler builds is wired against.
type Dependencies struct {
	Mutex      *mutex.Handler
	Merger     *merger.Merger
	Dispatcher executor.Dispatcher
	Nodes      nodepool.Provisioner
	Sources    *source.Registry // resolves each pipeline's SourceName to its Adapter
	Log        *zap.SugaredLogger
	TimeDB     *timedb.DB              // optional: feeds Build.EstimatedTime and records completions
	Stats      *statsrecorder.Recorder // optional: records queue/job/event metrics
}

// Scheduler owns the tenant/pipeline registry and the three event
// queues. Exactly one goroutine should call Run; every other method is
// safe to call concurrently from that goroutine's callers (webhook
// handlers, the control-plane CLI, executor/merger completion
// receivers).
type Scheduler struct {
	log  *zap.SugaredLogger
	deps Dependencies

	loader  reconfig.Loader
	stateMu sync.RWMutex
	abide   *model.Abide
	managers map[string]*pipeline.Manager // "tenant/pipeline"

	indexMu sync.Mutex
	index   map[string]buildRecord

	managementQueue chan schedevent.ManagementEvent
	resultQueue     chan schedevent.ResultEvent
	triggerQueue    chan triggerEnvelope

	wake chan struct{}
	paused bool
	pauseMu sync.Mutex
}

type triggerEnvelope struct {
	tenant string
	event  schedevent.TriggerEvent
	change model.Change
}

// New creates a Scheduler with an empty tenant registry; call
// Reconfigure (or TenantReconfigure) before Run to populate it.
func New(log *zap.SugaredLogger, deps Dependencies, loader reconfig.Loader) *Scheduler {
	return &Scheduler{
		log:             log,
		deps:            deps,
		loader:          loader,
		abide:           model.NewAbide(),
		managers:        make(map[string]*pipeline.Manager),
		index:           make(map[string]buildRecord),
		managementQueue: make(chan schedevent.ManagementEvent, 64),
		resultQueue:     make(chan schedevent.ResultEvent, 256),
		triggerQueue:    make(chan triggerEnvelope, 256),
		wake:            make(chan struct{}, 1),
	}
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// newManager is the reconfig.ManagerFactory the scheduler hands to
// pkg/reconfig, wiring each pipeline's dispatcher through the build
// index so later result events resolve.
func (s *Scheduler) newManager(tenant string, pl *model.Pipeline) *pipeline.Manager {
	key := tenant + "/" + pl.Name
	dispatcher := &indexingDispatcher{inner: s.deps.Dispatcher, managerKey: key, mu: &s.indexMu, index: s.index}

	var src source.Adapter
	if s.deps.Sources != nil && pl.SourceName != "" {
		var err error
		src, err = s.deps.Sources.Get(pl.SourceName)
		if err != nil {
			s.log.Warnw("resolving pipeline's source connection failed", "pipeline", key, "source", pl.SourceName, "error", err)
		}
	}

	mgr := pipeline.New(pl, s.deps.Mutex, s.deps.Merger, dispatcher, s.deps.Nodes, src, s.log, uuid.NewString)
	if s.deps.TimeDB != nil {
		mgr.SetTimeEstimator(s.deps.TimeDB)
	}
	return mgr
}

// EnqueueManagement submits a management event and blocks until the
// scheduler has processed it, returning whatever error it produced.
func (s *Scheduler) EnqueueManagement(ctx context.Context, ev schedevent.ManagementEvent) error {
	select {
	case s.managementQueue <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.wakeUp()
	done := make(chan error, 1)
	go func() { done <- ev.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueResult submits a result event for asynchronous processing.
func (s *Scheduler) EnqueueResult(ev schedevent.ResultEvent) {
	s.resultQueue <- ev
	s.wakeUp()
}

// EnqueueTrigger submits a trigger event for asynchronous processing.
// tenant scopes which tenant's pipelines should consider it — webhook
// ingress resolves this from the target project's tenant membership
// before calling in.
func (s *Scheduler) EnqueueTrigger(tenant string, event schedevent.TriggerEvent, change model.Change) {
	s.triggerQueue <- triggerEnvelope{tenant: tenant, event: event, change: change}
	s.wakeUp()
}

// Run processes events until ctx is canceled, giving management events
// strict priority over result events, and result events strict
// priority over trigger events (spec §4.1). When all three queues are
// empty it advances every pipeline's queues one step and then waits
// for new work or the idle poll interval, whichever comes first.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.handleOneManagement(ctx) {
			continue
		}
		if s.handleOneResult() {
			continue
		}
		if !s.isPaused() && s.handleOneTrigger() {
			continue
		}

		// Pause withholds trigger events and further queue processing
		// (merges, node requests, job dispatch); management/result
		// events above still drain so reconfigure, promote and
		// enqueue keep working while paused (spec §6).
		if !s.isPaused() {
			s.processAllQueues(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-time.After(idlePollInterval):
		}
	}
}

func (s *Scheduler) isPaused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// Pause stops the loop from draining trigger events, advancing
// pipeline queues or dispatching new work; trigger events still
// accumulate and are processed once Resume is called, while management
// and result events keep being processed (spec §6: "pause" control
// operation).
func (s *Scheduler) Pause() {
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
}

// Resume undoes Pause.
func (s *Scheduler) Resume() {
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
	s.wakeUp()
}

func (s *Scheduler) handleOneManagement(ctx context.Context) bool {
	select {
	case ev := <-s.managementQueue:
		s.processManagement(ctx, ev)
		return true
	default:
		return false
	}
}

func (s *Scheduler) processManagement(ctx context.Context, ev schedevent.ManagementEvent) {
	var err error
	switch e := ev.(type) {
	case *schedevent.ReconfigureEvent:
		err = s.doReconfigure(ctx)
	case *schedevent.TenantReconfigureEvent:
		err = s.doTenantReconfigure(ctx, e.Tenant)
	case *schedevent.PromoteEvent:
		err = s.doPromote(e)
	case *schedevent.EnqueueEvent:
		err = s.doEnqueue(e)
	default:
		err = fmt.Errorf("scheduler: unknown management event %T", ev)
	}
	ev.Done(err)
}

func (s *Scheduler) doReconfigure(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	result, err := reconfig.Reconfigure(ctx, s.loader, s.managers, s.newManager)
	if err != nil {
		return err
	}
	s.abide = result.Abide
	s.managers = result.Managers
	return nil
}

func (s *Scheduler) doTenantReconfigure(ctx context.Context, tenant string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	result, err := reconfig.TenantReconfigure(ctx, s.abide, tenant, s.loader, s.managers, s.newManager)
	if err != nil {
		return err
	}
	s.abide = result.Abide
	s.managers = result.Managers
	return nil
}

func (s *Scheduler) doPromote(e *schedevent.PromoteEvent) error {
	mgr := s.managerFor(e.Tenant, e.Pipeline)
	if mgr == nil {
		return schederrors.New(schederrors.ConfigurationError, nil, "no such pipeline %s/%s", e.Tenant, e.Pipeline)
	}
	_, notFound, err := mgr.Promote(mgr.Pipeline.Queues[0].Name, e.ChangeIDs)
	e.NotFoundIDs = notFound
	return err
}

func (s *Scheduler) doEnqueue(e *schedevent.EnqueueEvent) error {
	mgr := s.managerFor(e.Tenant, e.Pipeline)
	if mgr == nil {
		return schederrors.New(schederrors.ConfigurationError, nil, "no such pipeline %s/%s", e.Tenant, e.Pipeline)
	}
	item, _ := mgr.Pipeline.FindItem(e.ChangeKey)
	if item == nil {
		return schederrors.New(schederrors.ConfigurationError, nil, "change %s is not queued in %s/%s", e.ChangeKey, e.Tenant, e.Pipeline)
	}
	item.ResetBuildSet()
	return nil
}

func (s *Scheduler) managerFor(tenant, pl string) *pipeline.Manager {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.managers[tenant+"/"+pl]
}

// TenantForProject reports which tenant watches project, searching
// every pipeline's queues for a matching key. Used as the
// webhook.TenantResolver so ingress doesn't need its own copy of the
// tenant/project mapping.
func (s *Scheduler) TenantForProject(project *model.Project) (string, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	for tenantName, tenant := range s.abide.Tenants {
		for _, pl := range tenant.Layout.Pipelines {
			for _, q := range pl.Queues {
				for _, p := range q.Projects {
					if p.Key() == project.Key() {
						return tenantName, true
					}
				}
			}
		}
	}
	return "", false
}

func (s *Scheduler) handleOneResult() bool {
	select {
	case ev := <-s.resultQueue:
		s.processResult(ev)
		return true
	default:
		return false
	}
}

func (s *Scheduler) processResult(ev schedevent.ResultEvent) {
	switch e := ev.(type) {
	case *schedevent.BuildStartedEvent:
		rec, ok := s.lookupBuild(e.BuildUUID)
		if !ok {
			return
		}
		rec.build.State = model.BuildStarted
		rec.build.StartTime = time.Unix(e.StartTime, 0)
	case *schedevent.BuildCompletedEvent:
		rec, ok := s.lookupBuild(e.BuildUUID)
		if !ok {
			return
		}
		s.forgetBuild(e.BuildUUID)
		if dispatcher, ok := s.deps.Dispatcher.(*executor.BoundedDispatcher); ok {
			dispatcher.Release(e.BuildUUID)
		}
		mgr := s.managerForKey(rec.managerKey)
		if mgr == nil {
			return
		}
		mgr.OnBuildCompleted(rec.build, e.Result, time.Unix(e.EndTime, 0))
		if s.deps.TimeDB != nil && !rec.build.StartTime.IsZero() {
			if err := s.deps.TimeDB.Update(rec.build.Job.Name, rec.build.EndTime.Sub(rec.build.StartTime), e.Result); err != nil {
				s.log.Warnw("recording job duration failed", "job", rec.build.Job.Name, "error", err)
			}
		}
		if s.deps.Stats != nil {
			s.deps.Stats.ObserveBuild(mgr.Pipeline.Name, rec.build)
		}
	case *schedevent.MergeCompletedEvent:
		item := e.BuildSet.Item
		if item == nil || item.Pipeline == nil {
			return
		}
		mgr := s.managerForPipeline(item.Pipeline)
		if mgr == nil {
			return
		}
		mgr.OnMergeCompleted(item, e.BuildSet, e.Merge)
	case *schedevent.NodesProvisionedEvent:
		if e.Err != nil {
			s.log.Warnw("node provisioning failed", "job", e.JobName, "error", e.Err)
			return
		}
		e.BuildSet.NodeSets[e.JobName] = e.NodeSet
	}
}

func (s *Scheduler) lookupBuild(buildUUID string) (buildRecord, bool) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	rec, ok := s.index[buildUUID]
	return rec, ok
}

func (s *Scheduler) forgetBuild(buildUUID string) {
	s.indexMu.Lock()
	delete(s.index, buildUUID)
	s.indexMu.Unlock()
}

func (s *Scheduler) managerForKey(key string) *pipeline.Manager {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.managers[key]
}

func (s *Scheduler) managerForPipeline(pl *model.Pipeline) *pipeline.Manager {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	for _, mgr := range s.managers {
		if mgr.Pipeline == pl {
			return mgr
		}
	}
	return nil
}

func (s *Scheduler) handleOneTrigger() bool {
	select {
	case env := <-s.triggerQueue:
		s.processTrigger(env)
		return true
	default:
		return false
	}
}

// processTrigger dispatches one trigger event to every pipeline in its
// tenant, following the per-event-type steps of spec §4.2: a merged
// change that touches pipeline configuration schedules one tenant
// reconfigure; a new patchset purges older patchsets of the same
// change from every pipeline's queues; an abandoned change is removed
// from every pipeline's queues; and, independent of those, any
// pipeline whose trigger filter matches the event-change pair enqueues
// it.
func (s *Scheduler) processTrigger(env triggerEnvelope) {
	if s.deps.Stats != nil {
		s.deps.Stats.ObserveEvent(env.tenant, env.event.EventType())
	}

	s.stateMu.RLock()
	managers := make([]*pipeline.Manager, 0, len(s.managers))
	for key, mgr := range s.managers {
		if strings.HasPrefix(key, env.tenant+"/") {
			managers = append(managers, mgr)
		}
	}
	s.stateMu.RUnlock()

	if _, ok := env.event.(*schedevent.ChangeMergedEvent); ok && model.ChangeModifiesConfig(env.change) {
		s.scheduleTenantReconfigure(env.tenant)
	}

	for _, mgr := range managers {
		switch env.event.(type) {
		case *schedevent.PatchsetCreatedEvent:
			mgr.RemoveOldVersionsOfChange(env.change)
		case *schedevent.ChangeAbandonedEvent:
			mgr.RemoveAbandonedChange(env.change.ChangeKey())
		}

		ok, err := mgr.EventMatches(env.event, env.change)
		if err != nil {
			s.log.Errorw("evaluating trigger filter failed", "pipeline", mgr.Pipeline.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := mgr.AddChange(env.change, time.Now(), pipeline.AddChangeOptions{}); err != nil {
			s.log.Errorw("enqueuing change failed", "pipeline", mgr.Pipeline.Name, "change", env.change.ChangeKey(), "error", err)
		}
	}
}

// scheduleTenantReconfigure submits a TenantReconfigureEvent without
// waiting for it to be processed. processTrigger runs on the same
// goroutine that drains managementQueue inside Run, so calling the
// blocking EnqueueManagement from here would deadlock waiting on a
// future iteration of its own loop; ManagementEvent.Done is safe to
// call without anyone ever calling Wait (it only records the error and
// closes a channel), so dropping the handle after submission is fine.
func (s *Scheduler) scheduleTenantReconfigure(tenant string) {
	ev := schedevent.NewTenantReconfigureEvent(tenant)
	select {
	case s.managementQueue <- ev:
		s.wakeUp()
	default:
		s.log.Warnw("dropping tenant reconfigure request: management queue full", "tenant", tenant)
	}
}

func (s *Scheduler) processAllQueues(ctx context.Context) {
	s.stateMu.RLock()
	managers := make([]*pipeline.Manager, 0, len(s.managers))
	for _, mgr := range s.managers {
		managers = append(managers, mgr)
	}
	s.stateMu.RUnlock()

	for _, mgr := range managers {
		if err := mgr.ProcessQueue(ctx); err != nil {
			s.log.Errorw("processing pipeline queue failed", "pipeline", mgr.Pipeline.Name, "error", err)
		}
		if s.deps.Stats != nil {
			for _, q := range mgr.Pipeline.Queues {
				s.deps.Stats.SetQueueLength(mgr.Pipeline.Tenant, mgr.Pipeline.Name, q.Name, len(q.Items()))
			}
		}
	}
}
