package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

// PeriodicRunner drives pipelines' periodic triggers (spec §4.9) off a
// cron schedule, enqueuing a synthetic TimerEvent for each firing
// through the same EnqueueTrigger path webhook ingress uses, so
// ordering and trigger-filter evaluation are unchanged.
type PeriodicRunner struct {
	scheduler *Scheduler
	cron      *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewPeriodicRunner builds a runner bound to s. It schedules nothing
// until Start is called.
func NewPeriodicRunner(s *Scheduler) *PeriodicRunner {
	return &PeriodicRunner{
		scheduler: s,
		cron:      cron.New(),
	}
}

// Start builds the cron schedule from the scheduler's current pipeline
// set and begins firing. Call Reload after any reconfigure so newly
// added, removed or re-scheduled periodic triggers take effect.
func (p *PeriodicRunner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("scheduler: periodic runner already started")
	}
	if err := p.schedule(); err != nil {
		return err
	}
	p.cron.Start()
	p.running = true
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job to
// return.
func (p *PeriodicRunner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
}

// Reload replaces the cron schedule with one built from the
// scheduler's current pipeline set, for use after Reconfigure or
// TenantReconfigure changes which pipelines declare periodic triggers.
func (p *PeriodicRunner) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wasRunning := p.running
	if wasRunning {
		<-p.cron.Stop().Done()
	}
	p.cron = cron.New()
	if err := p.schedule(); err != nil {
		return err
	}
	if wasRunning {
		p.cron.Start()
	}
	return nil
}

// schedule adds one cron entry per (tenant, pipeline, periodic trigger)
// currently registered on the scheduler. Callers must hold p.mu.
func (p *PeriodicRunner) schedule() error {
	p.scheduler.stateMu.RLock()
	defer p.scheduler.stateMu.RUnlock()

	for key, mgr := range p.scheduler.managers {
		tenant := mgr.Pipeline.Tenant
		for _, trigger := range mgr.Pipeline.Periodic {
			trigger := trigger
			_, err := p.cron.AddFunc(trigger.Cron, func() {
				p.fire(tenant, trigger)
			})
			if err != nil {
				return fmt.Errorf("scheduler: pipeline %s periodic trigger %q: %w", key, trigger.Cron, err)
			}
		}
	}
	return nil
}

// fire enqueues a synthetic ref change for one periodic trigger firing.
func (p *PeriodicRunner) fire(tenant string, trigger model.PeriodicTrigger) {
	change := &model.RefChange{
		ChangeProject: trigger.Project,
		Ref:           "refs/heads/" + trigger.Branch,
	}
	p.scheduler.EnqueueTrigger(tenant, &schedevent.TimerEvent{ChangeProject: trigger.Project, Change: change}, change)
}
