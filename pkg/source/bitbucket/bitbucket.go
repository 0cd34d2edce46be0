// Package bitbucket adapts a Bitbucket Cloud connection to the
// source.Adapter contract, via github.com/ktrysmt/go-bitbucket
// (spec §4.7).
package bitbucket

import (
	"context"
	"fmt"
	"strings"

	bitbucket "github.com/ktrysmt/go-bitbucket"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Adapter implements source.Adapter against the Bitbucket Cloud REST API.
type Adapter struct {
	name     string
	client   *bitbucket.Client
	hostname string
}

// New builds an Adapter named name, authenticating with an app password.
func New(name, username, appPassword, hostname string) (*Adapter, error) {
	client := bitbucket.NewBasicAuth(username, appPassword)
	return &Adapter{name: name, client: client, hostname: hostname}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) splitOwnerRepo(name string) (owner, slug string, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("bitbucket: project name %q is not owner/repo", name)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) GetProject(ctx context.Context, name string) (*model.Project, error) {
	owner, slug, err := a.splitOwnerRepo(name)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.Repositories.Repository.Get(&bitbucket.RepositoryOptions{Owner: owner, RepoSlug: slug}); err != nil {
		return nil, classify(err, "bitbucket: fetching repository %s", name)
	}
	return &model.Project{CanonicalHostname: a.hostname, Name: name, SourceName: a.name}, nil
}

func (a *Adapter) GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error) {
	owner, slug, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	res, err := a.client.Repositories.Repository.ListBranches(&bitbucket.RepositoryBranchOptions{Owner: owner, RepoSlug: slug})
	if err != nil {
		return nil, classify(err, "bitbucket: listing branches for %s", project.Name)
	}
	out := make([]string, 0, len(res.Branches))
	for _, b := range res.Branches {
		out = append(out, b.Name)
	}
	return out, nil
}

// GetChange fetches a pull request and normalizes its participants'
// approval state (spec §4.7; Bitbucket exposes approval as a boolean
// per participant rather than a review state). Build statuses and
// changed files are not fetched; the returned change has neither.
func (a *Adapter) GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error) {
	owner, slug, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}

	pr, err := a.client.Repositories.PullRequests.Get(&bitbucket.PullRequestsOptions{Owner: owner, RepoSlug: slug, ID: changeKey})
	if err != nil {
		return nil, classify(err, "bitbucket: fetching pull request %s/%s", project.Name, changeKey)
	}

	title, _ := pr["title"].(string)
	body, _ := pr["description"].(string)
	branch := ""
	if dest, ok := pr["destination"].(map[string]any); ok {
		if b, ok := dest["branch"].(map[string]any); ok {
			branch, _ = b["name"].(string)
		}
	}
	sha := ""
	if src, ok := pr["source"].(map[string]any); ok {
		if commit, ok := src["commit"].(map[string]any); ok {
			sha, _ = commit["hash"].(string)
		}
	}

	approvals := make(map[string]model.Approval)
	if participants, ok := pr["participants"].([]any); ok {
		for _, p := range participants {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			user, _ := part["user"].(map[string]any)
			login, _ := user["nickname"].(string)
			approved, _ := part["approved"].(bool)
			if login == "" {
				continue
			}
			if approved {
				approvals[login] = model.Approval{User: login, Type: model.ApprovalApprove, Value: 2}
			}
		}
	}

	return &model.PullRequestChange{
		ChangeProject: project,
		Number:        changeKey,
		PatchsetID:    sha,
		Branch:        branch,
		Refspec:       fmt.Sprintf("pull-requests/%s/from", changeKey),
		Title:         title,
		Body:          body,
		Approvals:     approvals,
		SourceEvent:   "pullrequest",
	}, nil
}

func (a *Adapter) GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error) {
	owner, slug, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	res, err := a.client.Repositories.PullRequests.Gets(&bitbucket.PullRequestsOptions{Owner: owner, RepoSlug: slug, States: []string{"OPEN"}})
	if err != nil {
		return nil, classify(err, "bitbucket: listing pull requests for %s", project.Name)
	}
	listing, ok := res.(map[string]any)
	if !ok {
		return nil, nil
	}
	values, _ := listing["values"].([]any)
	needle := "#" + dependsChangeKey
	var out []model.Change
	for _, v := range values {
		pr, ok := v.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := pr["description"].(string)
		if !strings.Contains(desc, needle) {
			continue
		}
		id := fmt.Sprintf("%v", pr["id"])
		change, err := a.GetChange(ctx, project, id)
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
	owner, slug, err := a.splitOwnerRepo(pr.ChangeProject.Name)
	if err != nil {
		return false, err
	}
	raw, err := a.client.Repositories.PullRequests.Get(&bitbucket.PullRequestsOptions{Owner: owner, RepoSlug: slug, ID: pr.Number})
	if err != nil {
		return false, classify(err, "bitbucket: checking mergeability of %s/%s", pr.ChangeProject.Name, pr.Number)
	}
	state, _ := raw["state"].(string)
	return state == "OPEN", nil
}

// Report posts either a commit build status or a pull request comment,
// chosen by action.Name ("status" or "comment").
func (a *Adapter) Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error {
	pr, ok := change.(*model.PullRequestChange)
	if !ok {
		return nil
	}
	owner, slug, err := a.splitOwnerRepo(pr.ChangeProject.Name)
	if err != nil {
		return err
	}

	switch action.Name {
	case "status":
		state, description := statusFor(result)
		_, err := a.client.Repositories.Commits.CreateCommitStatus(&bitbucket.CommitsOptions{
			Owner:    owner,
			RepoSlug: slug,
			Revision: pr.PatchsetID,
		}, bitbucket.CommitStatusOptions{
			State:       state,
			Key:         action.Context,
			Description: description,
			Url:         detailsURL,
		})
		if err != nil {
			return classify(err, "bitbucket: reporting status on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	case "comment":
		body := fmt.Sprintf("Result: **%s**\n\n%s", result, detailsURL)
		_, err := a.client.Repositories.PullRequests.AddComment(&bitbucket.PullRequestCommentOptions{
			Owner:         owner,
			RepoSlug:      slug,
			PullRequestID: pr.Number,
			Content:       body,
		})
		if err != nil {
			return classify(err, "bitbucket: commenting on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	}
	return nil
}

func statusFor(result model.Result) (state, description string) {
	switch result {
	case model.ResultSuccess:
		return "SUCCESSFUL", "Build succeeded"
	case model.ResultNone:
		return "INPROGRESS", "Build in progress"
	default:
		return "FAILED", fmt.Sprintf("Build result: %s", result)
	}
}

func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return schederrors.New(schederrors.TransientExternal, err, format, args...)
}
