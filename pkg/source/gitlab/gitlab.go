// Package gitlab adapts a GitLab connection to the source.Adapter
// contract, via gitlab.com/gitlab-org/api/client-go (spec §4.7).
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Adapter implements source.Adapter against the GitLab REST API.
type Adapter struct {
	name     string
	client   *gitlab.Client
	hostname string
}

// New builds an Adapter named name, authenticating with token against
// baseURL (empty for gitlab.com).
func New(name, token, baseURL, hostname string) (*Adapter, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, schederrors.New(schederrors.Fatal, err, "gitlab: building client")
	}
	return &Adapter{name: name, client: client, hostname: hostname}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) GetProject(ctx context.Context, name string) (*model.Project, error) {
	if _, _, err := a.client.Projects.GetProject(name, nil, gitlab.WithContext(ctx)); err != nil {
		return nil, classify(err, "gitlab: fetching project %s", name)
	}
	return &model.Project{CanonicalHostname: a.hostname, Name: name, SourceName: a.name}, nil
}

func (a *Adapter) GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error) {
	branches, _, err := a.client.Branches.ListBranches(project.Name, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify(err, "gitlab: listing branches for %s", project.Name)
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.Name)
	}
	return out, nil
}

func (a *Adapter) GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error) {
	iid, err := strconv.Atoi(changeKey)
	if err != nil {
		return nil, fmt.Errorf("gitlab: change key %q is not a merge request IID", changeKey)
	}

	mr, _, err := a.client.MergeRequests.GetMergeRequest(project.Name, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify(err, "gitlab: fetching merge request %s!%d", project.Name, iid)
	}

	approvalState, _, err := a.client.MergeRequestApprovals.GetApprovalState(project.Name, iid, gitlab.WithContext(ctx))
	approvals := make(map[string]model.Approval)
	if err == nil && approvalState != nil {
		for _, rule := range approvalState.Rules {
			for _, u := range rule.ApprovedBy {
				approvals[u.Username] = model.Approval{User: u.Username, Type: model.ApprovalApprove, Value: 2}
			}
		}
	}

	statusList, _, err := a.client.Commits.GetCommitStatuses(project.Name, mr.SHA, nil, gitlab.WithContext(ctx))
	var statuses []model.Status
	if err == nil {
		for _, s := range statusList {
			statuses = append(statuses, model.Status{User: s.Author.Username, Context: s.Name, State: s.Status})
		}
	}

	changes, _, err := a.client.MergeRequests.GetMergeRequestChanges(project.Name, iid, nil, gitlab.WithContext(ctx))
	var files []string
	if err == nil {
		for _, c := range changes.Changes {
			files = append(files, c.NewPath)
		}
	}

	return &model.PullRequestChange{
		ChangeProject: project,
		Number:        changeKey,
		PatchsetID:    mr.SHA,
		Branch:        mr.TargetBranch,
		Refspec:       fmt.Sprintf("merge-requests/%d/head", iid),
		ChangeURL:     mr.WebURL,
		UpdatedAt:     *mr.UpdatedAt,
		ChangedFiles:  files,
		Title:         mr.Title,
		Body:          mr.Description,
		Statuses:      statuses,
		Approvals:     approvals,
		SourceEvent:   "merge_request",
	}, nil
}

func (a *Adapter) GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error) {
	state := "opened"
	mrs, _, err := a.client.MergeRequests.ListProjectMergeRequests(project.Name, &gitlab.ListProjectMergeRequestsOptions{State: &state}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify(err, "gitlab: listing merge requests for %s", project.Name)
	}
	needle := "!" + dependsChangeKey
	var out []model.Change
	for _, mr := range mrs {
		if !strings.Contains(mr.Description, needle) {
			continue
		}
		change, err := a.GetChange(ctx, project, strconv.Itoa(mr.IID))
		if err != nil {
			continue
		}
		out = append(out, change)
	}
	return out, nil
}

func (a *Adapter) CanMerge(ctx context.Context, change model.Change) (bool, error) {
	pr, ok := change.(*model.PullRequestChange)
	if !ok {
		return true, nil
	}
	iid, _ := strconv.Atoi(pr.Number)
	mr, _, err := a.client.MergeRequests.GetMergeRequest(pr.ChangeProject.Name, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return false, classify(err, "gitlab: checking mergeability of %s!%d", pr.ChangeProject.Name, iid)
	}
	return mr.MergeStatus == "can_be_merged", nil
}

func (a *Adapter) Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error {
	pr, ok := change.(*model.PullRequestChange)
	if !ok {
		return nil
	}

	switch action.Name {
	case "status":
		state := gitlab.Failed
		if result == model.ResultSuccess {
			state = gitlab.Success
		} else if result == model.ResultNone {
			state = gitlab.Running
		}
		_, _, err := a.client.Commits.SetCommitStatus(pr.ChangeProject.Name, pr.PatchsetID, &gitlab.SetCommitStatusOptions{
			State:       state,
			Name:        gitlab.Ptr(action.Context),
			TargetURL:   gitlab.Ptr(detailsURL),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return classify(err, "gitlab: reporting status on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	case "comment":
		iid, _ := strconv.Atoi(pr.Number)
		body := fmt.Sprintf("Result: **%s**\n\n%s", result, detailsURL)
		_, _, err := a.client.Notes.CreateMergeRequestNote(pr.ChangeProject.Name, iid, &gitlab.CreateMergeRequestNoteOptions{Body: &body}, gitlab.WithContext(ctx))
		if err != nil {
			return classify(err, "gitlab: commenting on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	}
	return nil
}

func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return schederrors.New(schederrors.TransientExternal, err, format, args...)
}
