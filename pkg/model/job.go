package model

import "time"

// Job is a unit of work a pipeline can dispatch for a queue item.
// Job identity is its Name within a pipeline's job tree; reconfigure
// re-targets builds onto whichever *Job object with the same name
// exists in the new tree (spec §4.6).
type Job struct {
	Name       string
	Mutex      string // empty if the job does not require a mutex
	NodeLabels []string
	Timeout    time.Duration
	DependsOn  []string // names of jobs that must succeed first
	Required   bool     // if true, its failure aborts the pipeline item
}

// JobTree resolves dependency ordering for the jobs configured on a
// pipeline. It is immutable once built; reconfigure builds a fresh
// tree and retargets builds job-by-job-name (see pkg/reconfig).
type JobTree struct {
	jobs  map[string]*Job
	order []string // jobs in dependency order (DependsOn before dependents)
}

// NewJobTree builds a tree from a flat job list, topologically
// ordering by DependsOn. It panics on a cycle, matching the "cycle
// would be an invariant violation" stance taken for dependency
// resolution elsewhere in this package. pkg/config does not check
// DependsOn for cycles, so a cyclic job list loaded from configuration
// reaches this panic.
func NewJobTree(jobs []*Job) *JobTree {
	byName := make(map[string]*Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name] = j
	}

	var order []string
	visited := make(map[string]int) // 0=unvisited 1=visiting 2=done
	var visit func(name string)
	visit = func(name string) {
		switch visited[name] {
		case 2:
			return
		case 1:
			panic("model: cyclic job dependency involving " + name)
		}
		visited[name] = 1
		job, ok := byName[name]
		if ok {
			for _, dep := range job.DependsOn {
				visit(dep)
			}
		}
		visited[name] = 2
		order = append(order, name)
	}
	for _, j := range jobs {
		visit(j.Name)
	}

	return &JobTree{jobs: byName, order: order}
}

// Job looks up a job by name, returning (nil, false) if it is not in
// the tree.
func (t *JobTree) Job(name string) (*Job, bool) {
	j, ok := t.jobs[name]
	return j, ok
}

// Jobs returns all jobs in dependency order.
func (t *JobTree) Jobs() []*Job {
	out := make([]*Job, 0, len(t.order))
	for _, name := range t.order {
		if j, ok := t.jobs[name]; ok {
			out = append(out, j)
		}
	}
	return out
}

// ReadyJobs returns the jobs whose DependsOn are all present in
// satisfied (by name) and which are not themselves in satisfied yet.
func (t *JobTree) ReadyJobs(satisfied map[string]bool) []*Job {
	var ready []*Job
	for _, name := range t.order {
		if satisfied[name] {
			continue
		}
		job := t.jobs[name]
		ok := true
		for _, dep := range job.DependsOn {
			if !satisfied[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, job)
		}
	}
	return ready
}
