// Package model holds the scheduler's core data types: projects,
// changes, pipelines, shared queues, queue items, build sets and
// builds. It has no behavior of its own beyond invariant-preserving
// mutators; the scheduling logic lives in pkg/pipeline and
// pkg/scheduler.
package model

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// Project identifies a repository known to one source connection.
type Project struct {
	CanonicalHostname string
	Name              string
	SourceName        string // which configured source adapter owns this project
}

// Key returns the string used to index a Project in maps.
func (p *Project) Key() string {
	return p.CanonicalHostname + "/" + p.Name
}

// Status is a normalised commit-status tuple, deduplicated per
// (User, Context) by keeping the newest, per spec §6.
type Status struct {
	User    string
	Context string
	State   string // e.g. "success", "error", "failure", "pending"
}

// ApprovalType distinguishes an approve/request-changes/comment review.
type ApprovalType string

const (
	ApprovalApprove  ApprovalType = "approval"
	ApprovalReject   ApprovalType = "rejection"
	ApprovalComment  ApprovalType = "comment"
)

// Approval is a single user's latest review, mapped per spec §6:
// APPROVED -> +2 (write) / +1 (no write); CHANGES_REQUESTED -> -2/-1;
// COMMENTED -> 0/comment.
type Approval struct {
	User      string
	Type      ApprovalType
	Value     int
	GrantedOn time.Time
}

// Change is the sum type over the two kinds of proposed modification
// the scheduler tracks. Concrete variants are *PullRequestChange and
// *RefChange.
type Change interface {
	// Project is the project this change belongs to.
	Project() *Project
	// Identity uniquely identifies the content snapshot this Change
	// value represents, for queue de-duplication (spec §3 invariant:
	// PatchsetID uniquely identifies a content snapshot).
	Identity() string
	// ChangeKey identifies the logical change across patchsets/pushes
	// (e.g. "123" for a pull request, independent of which patchset),
	// used by removeOldVersionsOfChange.
	ChangeKey() string
	// TargetBranch is the branch this change merges into (PR) or the
	// updated ref's branch (push).
	TargetBranch() string
	// Refspecs returns the ordered list of refspecs to apply, in a
	// speculative merge, on top of the target branch tip.
	Refspecs() []string
	// URL is a human-facing link to the change.
	URL() string
	// Files lists paths changed, when known; empty for ref-like
	// changes without a diff (e.g. a tag push).
	Files() []string
	// DependsOn returns the other changes this one's description names
	// as a prerequisite, via a "Depends-On:" trailer (spec §4.3 step 2).
	// Empty for ref-like changes, which have no description to parse.
	DependsOn() []DependencyRef
	isChange()
}

// DependencyRef names one change a "Depends-On:" trailer points at.
// Project is empty when the trailer doesn't qualify it, meaning the
// same project as the change the trailer was found on.
type DependencyRef struct {
	Project   string
	ChangeKey string
}

// dependsOnLine matches a "Depends-On:" trailer line, case-insensitively,
// the way GitHub/GitLab/Gitea/Bitbucket users write them by convention
// (Gerrit's original form is "Depends-On: <change-id>"; this scheduler's
// platforms don't have change-ids, so the trailer instead names a
// PR/MR by number, owner/repo#number, or full URL).
var dependsOnLine = regexp.MustCompile(`(?im)^\s*Depends-On:\s*(.+?)\s*$`)

// dependsOnURL matches a pull/merge request URL, capturing owner/repo
// and the trailing number.
var dependsOnURL = regexp.MustCompile(`(?i)^https?://[^/]+/([^/\s]+/[^/\s]+)/(?:pull|pulls|merge_requests|issues)/(\d+)$`)

// dependsOnScoped matches "owner/repo#123".
var dependsOnScoped = regexp.MustCompile(`^([\w.-]+/[\w.-]+)#(\d+)$`)

// dependsOnBare matches "#123".
var dependsOnBare = regexp.MustCompile(`^#(\d+)$`)

// ParseDependsOn extracts every DependencyRef named by a "Depends-On:"
// trailer in body. Unrecognized trailer values are skipped rather than
// erroring, since a change description is free text a user could
// write anything in.
func ParseDependsOn(body string) []DependencyRef {
	var out []DependencyRef
	for _, m := range dependsOnLine.FindAllStringSubmatch(body, -1) {
		for _, tok := range strings.Fields(m[1]) {
			tok = strings.Trim(tok, ",;")
			if ref, ok := parseDependencyToken(tok); ok {
				out = append(out, ref)
			}
		}
	}
	return out
}

func parseDependencyToken(tok string) (DependencyRef, bool) {
	if m := dependsOnURL.FindStringSubmatch(tok); m != nil {
		return DependencyRef{Project: m[1], ChangeKey: m[2]}, true
	}
	if m := dependsOnScoped.FindStringSubmatch(tok); m != nil {
		return DependencyRef{Project: m[1], ChangeKey: m[2]}, true
	}
	if m := dependsOnBare.FindStringSubmatch(tok); m != nil {
		return DependencyRef{ChangeKey: m[1]}, true
	}
	return DependencyRef{}, false
}

// ConfigFileGlobs are the paths a merged change touching any of them
// is treated as modifying pipeline configuration (spec §4.2 step 2:
// "invalidate the project's cached config" on such a merge).
var ConfigFileGlobs = []string{
	".conveyor.yaml",
	"conveyor.d/*.yaml",
	".zuul.yaml",
	"zuul.d/*.yaml",
}

// ChangeModifiesConfig reports whether any file change touches matches
// a ConfigFileGlobs pattern.
func ChangeModifiesConfig(change Change) bool {
	for _, f := range change.Files() {
		for _, pattern := range ConfigFileGlobs {
			if ok, _ := path.Match(pattern, f); ok {
				return true
			}
		}
	}
	return false
}

// PullRequestChange models a pull/merge request snapshot.
type PullRequestChange struct {
	ChangeProject *Project
	Number        string
	PatchsetID    string // head sha
	Branch        string
	Refspec       string
	ChangeURL     string
	UpdatedAt     time.Time
	ChangedFiles  []string
	Title         string
	Body          string // raw PR/MR description, parsed for Depends-On trailers
	Statuses      []Status
	Approvals     map[string]Approval // keyed by user
	SourceEvent   string
}

func (c *PullRequestChange) isChange()           {}
func (c *PullRequestChange) Project() *Project   { return c.ChangeProject }
func (c *PullRequestChange) Identity() string    { return c.Number + "," + c.PatchsetID }
func (c *PullRequestChange) ChangeKey() string   { return c.Number }
func (c *PullRequestChange) TargetBranch() string { return c.Branch }
func (c *PullRequestChange) Refspecs() []string  { return []string{c.Refspec} }
func (c *PullRequestChange) URL() string         { return c.ChangeURL }
func (c *PullRequestChange) Files() []string     { return c.ChangedFiles }
func (c *PullRequestChange) DependsOn() []DependencyRef { return ParseDependsOn(c.Body) }

// EffectiveStatuses returns the deduplicated statuses, one per (user, context),
// keeping the newest report — spec §6.
func (c *PullRequestChange) EffectiveStatuses() []Status {
	latest := make(map[[2]string]Status, len(c.Statuses))
	order := make([][2]string, 0, len(c.Statuses))
	for _, s := range c.Statuses {
		key := [2]string{s.User, s.Context}
		if _, ok := latest[key]; !ok {
			order = append(order, key)
		}
		latest[key] = s
	}
	out := make([]Status, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}

// RefChange models a branch/tag push.
type RefChange struct {
	ChangeProject *Project
	Ref           string
	OldRev        string
	NewRev        string
	ChangeURL     string
}

func (c *RefChange) isChange()         {}
func (c *RefChange) Project() *Project { return c.ChangeProject }
func (c *RefChange) Identity() string  { return c.Ref + "," + c.NewRev }
func (c *RefChange) ChangeKey() string { return c.Ref }
func (c *RefChange) TargetBranch() string {
	// refs/heads/<branch> -> <branch>; anything else (tags) has no branch.
	const prefix = "refs/heads/"
	if len(c.Ref) > len(prefix) && c.Ref[:len(prefix)] == prefix {
		return c.Ref[len(prefix):]
	}
	return ""
}
func (c *RefChange) Refspecs() []string { return nil }
func (c *RefChange) URL() string        { return c.ChangeURL }
func (c *RefChange) Files() []string    { return nil }
func (c *RefChange) DependsOn() []DependencyRef { return nil }

var (
	_ Change = (*PullRequestChange)(nil)
	_ Change = (*RefChange)(nil)
)
