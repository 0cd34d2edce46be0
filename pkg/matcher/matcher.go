// Package matcher evaluates a model.TriggerFilter against an incoming
// schedevent.TriggerEvent, deciding whether a pipeline should act on
// it (spec §4.2). Branch, ref and comment patterns are regular
// expressions matched from the start of the string, following Zuul's
// own trigger-filter semantics (original_source/zuul's filters use
// re.match, not full-string match or shell globbing).
package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

// Matches reports whether event satisfies filter. change is the
// current state of the change the event concerns; callers always
// supply the change the event was raised against, even for ref-update
// events where most requirement kinds simply have nothing to match.
func Matches(filter model.TriggerFilter, event schedevent.TriggerEvent, change model.Change) (bool, error) {
	if !matchesEventType(filter.EventTypes, event.EventType()) {
		return false, nil
	}
	if !matchesAny(filter.Branches, change.TargetBranch()) {
		return false, nil
	}
	if ref, ok := refOf(event); ok && !matchesAny(filter.Refs, ref) {
		return false, nil
	}
	if comment, ok := commentOf(event); ok && len(filter.Comments) > 0 && !matchesAny(filter.Comments, comment) {
		return false, nil
	}

	pr, _ := change.(*model.PullRequestChange)

	if len(filter.RequireApprovals) > 0 {
		if pr == nil || !anyApprovalSatisfies(filter.RequireApprovals, pr.Approvals) {
			return false, nil
		}
	}
	if len(filter.RejectApprovals) > 0 && pr != nil && anyApprovalSatisfies(filter.RejectApprovals, pr.Approvals) {
		return false, nil
	}

	var statuses []model.Status
	if pr != nil {
		statuses = pr.EffectiveStatuses()
	}
	if len(filter.RequireStatuses) > 0 && !anyStatusSatisfies(filter.RequireStatuses, statuses) {
		return false, nil
	}
	if len(filter.RejectStatuses) > 0 && anyStatusSatisfies(filter.RejectStatuses, statuses) {
		return false, nil
	}

	username, hasUsername := usernameOf(event)
	if len(filter.RequireUsernames) > 0 {
		if !hasUsername || !containsFold(filter.RequireUsernames, username) {
			return false, nil
		}
	}
	if len(filter.RejectUsernames) > 0 && hasUsername && containsFold(filter.RejectUsernames, username) {
		return false, nil
	}

	if filter.CELExpression != "" {
		ok, err := evalCEL(filter.CELExpression, event, change)
		if err != nil {
			return false, fmt.Errorf("matcher: evaluating cel expression: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// MatchesRequirements reports whether change satisfies every one of
// filters (pipeline-level Requirements are ANDed together, unlike
// Triggers' OR, since each one names an independent precondition —
// spec §4.3 step 1). There is no originating TriggerEvent at enqueue
// time, so only the event-independent predicates (branch, approvals,
// statuses) are evaluated; EventTypes/Refs/Comments/Username/CEL are
// skipped since they have nothing to match against.
func MatchesRequirements(filters []model.TriggerFilter, change model.Change) (bool, error) {
	for _, filter := range filters {
		ok, err := matchesRequirement(filter, change)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchesRequirement(filter model.TriggerFilter, change model.Change) (bool, error) {
	if !matchesAny(filter.Branches, change.TargetBranch()) {
		return false, nil
	}

	pr, _ := change.(*model.PullRequestChange)

	if len(filter.RequireApprovals) > 0 {
		if pr == nil || !anyApprovalSatisfies(filter.RequireApprovals, pr.Approvals) {
			return false, nil
		}
	}
	if len(filter.RejectApprovals) > 0 && pr != nil && anyApprovalSatisfies(filter.RejectApprovals, pr.Approvals) {
		return false, nil
	}

	var statuses []model.Status
	if pr != nil {
		statuses = pr.EffectiveStatuses()
	}
	if len(filter.RequireStatuses) > 0 && !anyStatusSatisfies(filter.RequireStatuses, statuses) {
		return false, nil
	}
	if len(filter.RejectStatuses) > 0 && anyStatusSatisfies(filter.RejectStatuses, statuses) {
		return false, nil
	}

	return true, nil
}

func matchesEventType(want []string, got string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == got {
			return true
		}
	}
	return false
}

// matchesAny reports whether s matches at least one of patterns, each
// treated as a regex anchored at the start of s. An empty patterns
// list always matches.
func matchesAny(patterns []string, s string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			continue
		}
		if re.FindStringIndex(s) != nil {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func refOf(event schedevent.TriggerEvent) (string, bool) {
	if e, ok := event.(*schedevent.RefUpdatedEvent); ok {
		return e.Change.Ref, true
	}
	return "", false
}

func commentOf(event schedevent.TriggerEvent) (string, bool) {
	if e, ok := event.(*schedevent.CommentAddedEvent); ok {
		return e.Comment, true
	}
	return "", false
}

func usernameOf(event schedevent.TriggerEvent) (string, bool) {
	switch e := event.(type) {
	case *schedevent.CommentAddedEvent:
		return e.Author, true
	case *schedevent.CommitStatusEvent:
		return e.Status.User, true
	default:
		return "", false
	}
}

// anyApprovalSatisfies reports whether at least one of change's
// approvals satisfies at least one requirement, per Zuul's
// any-of-requirements, any-of-approvals semantics.
func anyApprovalSatisfies(reqs []model.ApprovalRequirement, approvals map[string]model.Approval) bool {
	for _, req := range reqs {
		for _, appr := range approvals {
			if approvalSatisfies(req, appr) {
				return true
			}
		}
	}
	return false
}

func approvalSatisfies(req model.ApprovalRequirement, appr model.Approval) bool {
	if len(req.Usernames) > 0 && !containsFold(req.Usernames, appr.User) {
		return false
	}
	if req.MinValue != nil && appr.Value < *req.MinValue {
		return false
	}
	if req.MaxValue != nil && appr.Value > *req.MaxValue {
		return false
	}
	if req.NewerThan != "" {
		d, err := time.ParseDuration(req.NewerThan)
		if err == nil && time.Since(appr.GrantedOn) > d {
			return false
		}
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err == nil && time.Since(appr.GrantedOn) < d {
			return false
		}
	}
	return true
}

func anyStatusSatisfies(reqs []model.StatusRequirement, statuses []model.Status) bool {
	for _, req := range reqs {
		for _, s := range statuses {
			if s.Context == req.Context && s.State == req.State {
				return true
			}
		}
	}
	return false
}

// evalCEL compiles and evaluates expr against a small variable
// environment exposing the event type, the change's target branch and
// files, and (for pull request changes) its title. Grounded on the
// teacher's own use of cel-go for webhook-payload predicates
// (pkg/cmd/tknpac/cel).
func evalCEL(expr string, event schedevent.TriggerEvent, change model.Change) (bool, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("branch", cel.StringType),
		cel.Variable("files", cel.ListType(cel.StringType)),
		cel.Variable("title", cel.StringType),
	)
	if err != nil {
		return false, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}

	var title string
	if pr, ok := change.(*model.PullRequestChange); ok {
		title = pr.Title
	}
	files := change.Files()
	if files == nil {
		files = []string{}
	}

	out, _, err := prg.Eval(map[string]any{
		"event_type": event.EventType(),
		"branch":     change.TargetBranch(),
		"files":      files,
		"title":      title,
	})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("matcher: cel expression %q did not evaluate to a bool", expr)
	}
	return result, nil
}
