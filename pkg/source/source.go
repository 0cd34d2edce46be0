// Package source defines the contract every source-platform connection
// (GitHub, GitLab, Bitbucket, Gitea) implements, and which the
// scheduler core depends on only through this interface — concrete
// adapters live in source/github, source/gitlab, source/bitbucket and
// source/gitea (spec §4.7).
package source

import (
	"context"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Adapter is a source connection's capability set. Nothing in
// pkg/pipeline or pkg/scheduler imports a concrete adapter; they only
// ever see this interface, resolved by name from configuration.
type Adapter interface {
	// Name is the configured connection name (model.Project.SourceName
	// and model.TriggerEvent implementations key off of it).
	Name() string
	// GetChange fetches the current state of a change by its
	// logical key (e.g. pull request number), refreshing approvals,
	// statuses and the patchset identity.
	GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error)
	// GetProject resolves a project by its platform-native name.
	GetProject(ctx context.Context, name string) (*model.Project, error)
	// GetProjectBranches lists a project's branches, for trigger
	// filters and reconfiguration.
	GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error)
	// GetChangesDependingOn returns every open change in project whose
	// description references dependsChangeKey — how a dependent
	// pipeline's speculative queue discovers cross-change ordering
	// expressed in a PR/MR body (spec §4.7).
	GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error)
	// CanMerge reports whether change currently satisfies the
	// platform's own merge protections (required reviews, required
	// statuses) independent of anything this scheduler itself gates on.
	CanMerge(ctx context.Context, change model.Change) (bool, error)
	// Report posts a pipeline's outcome back to the platform: a commit
	// status or a comment, depending on action.Name.
	Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error
}
