package model

// ManagerKind selects a pipeline's processing discipline (spec §9
// design notes: "Dynamic dispatch over pipeline-manager discipline
// maps to a capability set"). Independent pipelines (e.g. "check")
// build each item against the unmerged target branch tip and never
// block on siblings; Dependent pipelines (e.g. "gate") build each item
// speculatively atop its ItemAhead and abort the whole shared queue
// behind a failure.
type ManagerKind string

const (
	ManagerIndependent ManagerKind = "independent"
	ManagerDependent   ManagerKind = "dependent"
)

// ApprovalRequirement constrains which reviews satisfy a trigger or
// pipeline requirement.
type ApprovalRequirement struct {
	Usernames  []string // empty: any user
	NewerThan  string    // duration string, e.g. "24h"; empty: no bound
	OlderThan  string
	MinValue   *int // nil: no bound
	MaxValue   *int
}

// StatusRequirement constrains which commit statuses satisfy a
// trigger or pipeline requirement.
type StatusRequirement struct {
	Context string
	State   string // "success", "error", "failure", "pending"
}

// TriggerFilter is the composition described in spec §4.2: event-type
// match, branch/ref match, required/rejected approvals,
// required/rejected statuses, required/rejected usernames, and an
// optional time-window constraint. Evaluation is in pkg/matcher.
type TriggerFilter struct {
	EventTypes        []string // e.g. "patchset-created", "comment-added"
	Branches          []string // regexes anchored at the start of the branch name; empty: any branch
	Refs              []string // regexes anchored at the start of the ref, for ref-like events
	Comments          []string // regexes a comment body must match, for comment-added
	RequireApprovals  []ApprovalRequirement
	RejectApprovals   []ApprovalRequirement
	RequireStatuses   []StatusRequirement
	RejectStatuses    []StatusRequirement
	RequireUsernames  []string
	RejectUsernames   []string
	CELExpression     string // optional extra predicate, evaluated against event+change
}

// ReporterAction describes one way a pipeline communicates an outcome
// back to the source platform (spec §4.3, §7).
type ReporterAction struct {
	Name    string // e.g. "status", "comment"
	Context string
}

// PeriodicTrigger schedules a synthetic ref-like change independent of
// webhook activity (spec §4.9's timer trigger): Project/Branch name
// what gets enqueued, Cron is a standard five-field cron expression
// evaluated in the scheduler process's local time.
type PeriodicTrigger struct {
	Project *Project
	Branch  string
	Cron    string
}

// Pipeline is a configured processing discipline producing reports for
// changes (spec §3, §4.3).
type Pipeline struct {
	Name         string
	Tenant       string
	Queues       []*SharedQueue
	SourceName   string
	Triggers     []TriggerFilter
	Reporters    []ReporterAction
	Manager      ManagerKind
	Requirements []TriggerFilter // pipeline-level requirements, evaluated on enqueue
	Jobs         []*Job
	Periodic     []PeriodicTrigger
	AbortOnFirstFailure bool // dependent pipelines default true
}

// QueueFor returns the shared queue containing p, or nil if none of
// the pipeline's queues claims that project.
func (pl *Pipeline) QueueFor(p *Project) *SharedQueue {
	for _, q := range pl.Queues {
		if q.HasProject(p) {
			return q
		}
	}
	return nil
}

// AllItems returns every QueueItem across every shared queue of the
// pipeline, used for statistics and reconfigure traversal.
func (pl *Pipeline) AllItems() []*QueueItem {
	var out []*QueueItem
	for _, q := range pl.Queues {
		out = append(out, q.Items()...)
	}
	return out
}

// FindItem returns the queue item (and its queue) whose change key
// matches changeKey, or (nil, nil) if none.
func (pl *Pipeline) FindItem(changeKey string) (*QueueItem, *SharedQueue) {
	for _, q := range pl.Queues {
		for _, it := range q.Items() {
			if it.Change.ChangeKey() == changeKey {
				return it, q
			}
		}
	}
	return nil, nil
}
