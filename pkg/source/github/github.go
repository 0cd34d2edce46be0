// Package github adapts a GitHub (or GitHub Enterprise) connection to
// the source.Adapter contract, via go-github (spec §4.7).
package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v74/github"

	schederrors "github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Adapter implements source.Adapter against the GitHub REST API.
type Adapter struct {
	name     string
	client   *github.Client
	hostname string // canonical hostname recorded on every model.Project
}

// New builds an Adapter named name, authenticating with token. For
// GitHub Enterprise, baseURL should be the instance's API root;
// leave it empty for github.com.
func New(name, token, baseURL, hostname string) (*Adapter, error) {
	client := github.NewClient(nil).WithAuthToken(token)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, schederrors.New(schederrors.Fatal, err, "github: configuring enterprise base URL")
		}
	}
	return &Adapter{name: name, client: client, hostname: hostname}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) splitOwnerRepo(name string) (owner, repo string, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("github: project name %q is not owner/repo", name)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) GetProject(ctx context.Context, name string) (*model.Project, error) {
	owner, repo, err := a.splitOwnerRepo(name)
	if err != nil {
		return nil, err
	}
	if _, _, err := a.client.Repositories.Get(ctx, owner, repo); err != nil {
		return nil, classify(err, "github: fetching repository %s", name)
	}
	return &model.Project{CanonicalHostname: a.hostname, Name: name, SourceName: a.name}, nil
}

func (a *Adapter) GetProjectBranches(ctx context.Context, project *model.Project) ([]string, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	branches, _, err := a.client.Repositories.ListBranches(ctx, owner, repo, nil)
	if err != nil {
		return nil, classify(err, "github: listing branches for %s", project.Name)
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.GetName())
	}
	return out, nil
}

// GetChange fetches a pull request's current state, normalizing
// reviews into model.Approval and commit statuses into model.Status
// (spec §6: GitHub review state -> approval value mapping).
func (a *Adapter) GetChange(ctx context.Context, project *model.Project, changeKey string) (model.Change, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(changeKey)
	if err != nil {
		return nil, fmt.Errorf("github: change key %q is not a pull request number", changeKey)
	}

	pr, _, err := a.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classify(err, "github: fetching pull request %s/%d", project.Name, number)
	}

	reviews, _, err := a.client.PullRequests.ListReviews(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, classify(err, "github: listing reviews for %s/%d", project.Name, number)
	}
	approvals := make(map[string]model.Approval, len(reviews))
	for _, rv := range reviews {
		approvals[rv.GetUser().GetLogin()] = model.Approval{
			User:      rv.GetUser().GetLogin(),
			Type:      reviewType(rv.GetState()),
			Value:     reviewValue(rv.GetState()),
			GrantedOn: rv.GetSubmittedAt().Time,
		}
	}

	statusList, _, err := a.client.Repositories.ListStatuses(ctx, owner, repo, pr.GetHead().GetSHA(), nil)
	if err != nil {
		return nil, classify(err, "github: listing statuses for %s/%d", project.Name, number)
	}
	statuses := make([]model.Status, 0, len(statusList))
	for _, s := range statusList {
		statuses = append(statuses, model.Status{User: s.GetCreator().GetLogin(), Context: s.GetContext(), State: s.GetState()})
	}

	files, _, err := a.client.PullRequests.ListFiles(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, classify(err, "github: listing files for %s/%d", project.Name, number)
	}
	changedFiles := make([]string, 0, len(files))
	for _, f := range files {
		changedFiles = append(changedFiles, f.GetFilename())
	}

	return &model.PullRequestChange{
		ChangeProject: project,
		Number:        changeKey,
		PatchsetID:    pr.GetHead().GetSHA(),
		Branch:        pr.GetBase().GetRef(),
		Refspec:       fmt.Sprintf("refs/pull/%d/head", number),
		ChangeURL:     pr.GetHTMLURL(),
		UpdatedAt:     pr.GetUpdatedAt().Time,
		ChangedFiles:  changedFiles,
		Title:         pr.GetTitle(),
		Body:          pr.GetBody(),
		Statuses:      statuses,
		Approvals:     approvals,
		SourceEvent:   "pull_request",
	}, nil
}

// GetChangesDependingOn scans open pull requests for a reference to
// dependsChangeKey in their description, the convention GitHub users
// rely on to express "depends on #N" by hand (spec §4.7).
func (a *Adapter) GetChangesDependingOn(ctx context.Context, project *model.Project, dependsChangeKey string) ([]model.Change, error) {
	owner, repo, err := a.splitOwnerRepo(project.Name)
	if err != nil {
		return nil, err
	}
	prs, _, err := a.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{State: "open"})
	if err != nil {
		return nil, classify(err, "github: listing open pull requests for %s", project.Name)
	}

	needle := "#" + dependsChangeKey
	var out []model.Change
	for _, pr := range prs {
		if !strings.Contains(pr.GetBody(), needle) {
			continue
		}
		change, err := a.GetChange(ctx, project, strconv.Itoa(pr.GetNumber()))
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
	number, _ := strconv.Atoi(pr.Number)
	mergeable, _, err := a.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return false, classify(err, "github: checking mergeability of %s/%d", pr.ChangeProject.Name, number)
	}
	return mergeable.GetMergeable(), nil
}

// Report posts either a commit status or an issue comment, chosen by
// action.Name ("status" or "comment").
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
		_, _, err := a.client.Repositories.CreateStatus(ctx, owner, repo, pr.PatchsetID, &github.RepoStatus{
			State:       github.Ptr(state),
			Context:     github.Ptr(action.Context),
			Description: github.Ptr(description),
			TargetURL:   github.Ptr(detailsURL),
		})
		if err != nil {
			return classify(err, "github: reporting status on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	case "comment":
		number, _ := strconv.Atoi(pr.Number)
		body := fmt.Sprintf("Result: **%s**\n\n%s", result, detailsURL)
		_, _, err := a.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
		if err != nil {
			return classify(err, "github: commenting on %s/%s", pr.ChangeProject.Name, pr.Number)
		}
	}
	return nil
}

func reviewType(state string) model.ApprovalType {
	switch state {
	case "APPROVED":
		return model.ApprovalApprove
	case "CHANGES_REQUESTED":
		return model.ApprovalReject
	default:
		return model.ApprovalComment
	}
}

func reviewValue(state string) int {
	switch state {
	case "APPROVED":
		return 2
	case "CHANGES_REQUESTED":
		return -2
	default:
		return 0
	}
}

func statusFor(result model.Result) (state, description string) {
	switch result {
	case model.ResultSuccess:
		return "success", "Build succeeded"
	case model.ResultNone:
		return "pending", "Build in progress"
	default:
		return "failure", fmt.Sprintf("Build result: %s", result)
	}
}

// classify wraps a go-github error as TransientExternal — rate limits
// and network failures dominate GitHub API failure modes, and both are
// worth retrying (spec §7).
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return schederrors.New(schederrors.TransientExternal, err, format, args...)
}
