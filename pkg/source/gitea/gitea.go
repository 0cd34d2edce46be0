// Package gitea adapts a Gitea (or Forgejo) connection to the
// source.Adapter contract, via code.gitea.io/sdk/gitea (spec §4.7).
package gitea

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"code.gitea.io/sdk/gitea"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Adapter implements source.Adapter against the Gitea REST API.
type Adapter struct {
	name     string
	client   *gitea.Client
	hostname string
}

// New builds an Adapter named name, authenticating with token against
// the Gitea instance rooted at baseURL.
func New(name, token, baseURL, hostname string) (*Adapter, error) {
	client, err := gitea.NewClient(baseURL, gitea.SetToken(token))
	if err != nil {
		return nil, schederrors.New(schederrors.Fatal, err, "gitea: building client")
	}
	return &Adapter{name: name, client: client, hostname: hostname}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) splitOwnerRepo(name string) (owner, repo string, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("gitea: project name %q is not owner/repo", name)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) GetProject(ctx context.Context, name string) (*model.Project, error) {
	owner, repo, err := a.splitOwnerRepo(name)
	if err != nil {
		return nil, err
	}
	if _, _, err := a.client.GetRepo(owner, repo); err != nil {
		return nil, classify(err, "gitea: fetching repository %s", name)
	}
	return &model.Project{CanonicalHostname: a.hostname, Name: name, SourceName: a.name}, nil
}

func (a *Adapter) GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	branches, _, err := a.client.ListRepoBranches(owner, repo, gitea.ListRepoBranchesOptions{})
	if err != nil {
		return nil, classify(err, "gitea: listing branches for %s", project.Name)
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.Name)
	}
	return out, nil
}

func (a *Adapter) GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	index, err := strconv.ParseInt(changeKey, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("gitea: change key %q is not a pull request index", changeKey)
	}

	pr, _, err := a.client.GetPullRequest(owner, repo, index)
	if err != nil {
		return nil, classify(err, "gitea: fetching pull request %s/%d", project.Name, index)
	}

	reviews, _, err := a.client.ListPullReviews(owner, repo, index, gitea.ListPullReviewsOptions{})
	approvals := make(map[string]model.Approval)
	if err == nil {
		for _, rv := range reviews {
			approvals[rv.Reviewer.UserName] = model.Approval{
				User:  rv.Reviewer.UserName,
				Type:  reviewType(rv.State),
				Value: reviewValue(rv.State),
			}
		}
	}

	statusList, _, err := a.client.ListStatuses(owner, repo, pr.Head.Sha, gitea.ListStatusesOption{})
	var statuses []model.Status
	if err == nil {
		for _, s := range statusList {
			statuses = append(statuses, model.Status{User: s.Creator.UserName, Context: s.Context, State: string(s.State)})
		}
	}

	diff, _, err := a.client.GetPullRequestDiff(owner, repo, index, gitea.PullRequestDiffOptions{})
	var files []string
	if err == nil {
		files = parseChangedFiles(diff)
	}

	return &model.PullRequestChange{
		ChangeProject: project,
		Number:        changeKey,
		PatchsetID:    pr.Head.Sha,
		Branch:        pr.Base.Name,
		Refspec:       fmt.Sprintf("pull/%d/head", index),
		ChangeURL:     pr.HTMLURL,
		UpdatedAt:     pr.Updated,
		ChangedFiles:  files,
		Title:         pr.Title,
		Body:          pr.Body,
		Statuses:      statuses,
		Approvals:     approvals,
		SourceEvent:   "pull_request",
	}, nil
}

func (a *Adapter) GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	prs, _, err := a.client.ListRepoPullRequests(owner, repo, gitea.ListPullRequestsOptions{State: gitea.StateOpen})
	if err != nil {
		return nil, classify(err, "gitea: listing pull requests for %s", project.Name)
	}
	needle := "#" + dependsChangeKey
	var out []model.Change
	for _, pr := range prs {
		if !strings.Contains(pr.Body, needle) {
			continue
		}
		change, err := a.GetChange(ctx, project, strconv.FormatInt(pr.Index, 10))
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
	owner, repo, err := a.splitOwnerRepo(pr.ChangeProject.Name)
	if err != nil {
		return false, err
	}
	index, _ := strconv.ParseInt(pr.Number, 10, 64)
	full, _, err := a.client.GetPullRequest(owner, repo, index)
	if err != nil {
		return false, classify(err, "gitea: checking mergeability of %s/%d", pr.ChangeProject.Name, index)
	}
	return full.Mergeable, nil
}

// Report posts either a commit status or a pull request comment,
// chosen by action.Name ("status" or "comment").
func (a *Adapter) Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error {
	pr, ok := change.(*model.PullRequestChange)
	if !ok {
		return nil
	}
	owner, repo, err := a.splitOwnerRepo(pr.ChangeProject.Name)
	if err != nil {
		return err
	}

	switch action.Name {
	case "status":
		state, description := statusFor(result)
		_, _, err := a.client.CreateStatus(owner, repo, pr.PatchsetID, gitea.CreateStatusOption{
			State:       state,
			TargetURL:   detailsURL,
			Description: description,
			Context:     action.Context,
		})
		if err != nil {
			return classify(err, "gitea: reporting status on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	case "comment":
		index, _ := strconv.ParseInt(pr.Number, 10, 64)
		body := fmt.Sprintf("Result: **%s**\n\n%s", result, detailsURL)
		_, _, err := a.client.CreateIssueComment(owner, repo, index, gitea.CreateIssueCommentOption{Body: body})
		if err != nil {
			return classify(err, "gitea: commenting on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	}
	return nil
}

func reviewType(state gitea.ReviewStateType) model.ApprovalType {
	switch state {
	case gitea.ReviewStateApproved:
		return model.ApprovalApprove
	case gitea.ReviewStateRequestChanges:
		return model.ApprovalReject
	default:
		return model.ApprovalComment
	}
}

func reviewValue(state gitea.ReviewStateType) int {
	switch state {
	case gitea.ReviewStateApproved:
		return 2
	case gitea.ReviewStateRequestChanges:
		return -2
	default:
		return 0
	}
}

func statusFor(result model.Result) (gitea.StatusState, string) {
	switch result {
	case model.ResultSuccess:
		return gitea.StatusSuccess, "Build succeeded"
	case model.ResultNone:
		return gitea.StatusPending, "Build in progress"
	default:
		return gitea.StatusFailure, fmt.Sprintf("Build result: %s", result)
	}
}

// parseChangedFiles extracts touched paths from a unified diff's "+++"
// headers, since Gitea has no dedicated changed-files endpoint.
func parseChangedFiles(diff []byte) []string {
	var files []string
	for _, line := range strings.Split(string(diff), "\n") {
		if !strings.HasPrefix(line, "+++ b/") {
			continue
		}
		files = append(files, strings.TrimPrefix(line, "+++ b/"))
	}
	return files
}

func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return schederrors.New(schederrors.TransientExternal, err, format, args...)
}
