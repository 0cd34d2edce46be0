// Package webhook turns a source platform's webhook deliveries into
// scheduler trigger events. It validates the request's HMAC signature,
// routes by event-type header, and decodes just enough of the payload
// to build a schedevent.TriggerEvent — everything else (matching,
// enqueueing, dispatch) belongs to pkg/scheduler and pkg/pipeline.
//
// Grounded on original_source's githubconnection.py:
// GithubWebhookListener (X-Hub-Signature validation, action->event
// mapping) translated to a plain net/http handler.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // GitHub signs webhook payloads with HMAC-SHA1 (X-Hub-Signature); there is no stronger option to opt into here
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

// Sink receives trigger events decoded from webhook deliveries.
type Sink interface {
	EnqueueTrigger(tenant string, event schedevent.TriggerEvent, change model.Change)
}

// TenantResolver maps a project to the tenant that watches it. A
// project unknown to any tenant returns ok=false and the delivery is
// dropped.
type TenantResolver func(project *model.Project) (tenant string, ok bool)

// Handler is an http.Handler for a single source connection's webhook
// endpoint.
type Handler struct {
	secret            []byte
	canonicalHostname string
	sourceName        string
	sink              Sink
	tenantFor         TenantResolver
	log               *zap.SugaredLogger
}

// New builds a Handler. secret may be empty, in which case signature
// validation is skipped (matching the original's "no webhook_token
// configured" behavior).
func New(sourceName, canonicalHostname, secret string, sink Sink, tenantFor TenantResolver, log *zap.SugaredLogger) *Handler {
	return &Handler{
		secret:            []byte(secret),
		canonicalHostname: canonicalHostname,
		sourceName:        sourceName,
		sink:              sink,
		tenantFor:         tenantFor,
		log:               log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if len(h.secret) > 0 {
		if err := h.validateSignature(r.Header.Get("X-Hub-Signature"), body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	event, change, err := h.decode(eventType, body)
	if err != nil {
		h.log.Warnw("webhook: dropping delivery", "event_type", eventType, "error", err)
		w.WriteHeader(http.StatusOK) // malformed/uninteresting payloads are not the sender's fault to retry
		return
	}
	if event == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	tenant, ok := h.tenantFor(event.Project())
	if !ok {
		h.log.Debugw("webhook: no tenant watches this project", "project", event.Project().Name)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.sink.EnqueueTrigger(tenant, event, change)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) validateSignature(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("webhook: missing X-Hub-Signature header")
	}
	const prefix = "sha1="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return fmt.Errorf("webhook: malformed X-Hub-Signature header")
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return fmt.Errorf("webhook: malformed X-Hub-Signature header: %w", err)
	}

	mac := hmac.New(sha1.New, h.secret)
	mac.Write(body)
	got := mac.Sum(nil)
	if !hmac.Equal(got, want) {
		return fmt.Errorf("webhook: signature does not match payload, check the configured secret")
	}
	return nil
}

func (h *Handler) decode(eventType string, body []byte) (schedevent.TriggerEvent, model.Change, error) {
	switch eventType {
	case "ping":
		return nil, nil, nil
	case "pull_request":
		return h.decodePullRequest(body)
	case "issue_comment":
		return h.decodeIssueComment(body)
	case "push":
		return h.decodePush(body)
	default:
		return nil, nil, nil
	}
}

type ghRepo struct {
	FullName string `json:"full_name"`
}

type ghRef struct {
	Ref  string `json:"ref"`
	SHA  string `json:"sha"`
	Repo ghRepo `json:"repo"`
}

type ghPullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
	Merged    bool      `json:"merged"`
	Base      ghRef     `json:"base"`
	Head      ghRef     `json:"head"`
}

type ghPullRequestPayload struct {
	Action      string        `json:"action"`
	Number      int           `json:"number"`
	PullRequest ghPullRequest `json:"pull_request"`
	Repository  ghRepo        `json:"repository"`
}

func (p *ghPullRequestPayload) toChange(project *model.Project) *model.PullRequestChange {
	pr := p.PullRequest
	return &model.PullRequestChange{
		ChangeProject: project,
		Number:        fmt.Sprintf("%d", pr.Number),
		PatchsetID:    pr.Head.SHA,
		Branch:        pr.Base.Ref,
		Refspec:       fmt.Sprintf("refs/pull/%d/head", pr.Number),
		ChangeURL:     pr.HTMLURL,
		UpdatedAt:     pr.UpdatedAt,
		Title:         pr.Title,
		SourceEvent:   "pull_request",
	}
}

// decodePullRequest maps opened/synchronize/reopened to a new patchset,
// closed+merged to a merge completion, and closed+unmerged to an
// abandonment, following githubconnection.py's action table.
func (h *Handler) decodePullRequest(body []byte) (schedevent.TriggerEvent, model.Change, error) {
	var payload ghPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("webhook: decoding pull_request payload: %w", err)
	}
	project := &model.Project{CanonicalHostname: h.canonicalHostname, Name: payload.Repository.FullName, SourceName: h.sourceName}
	change := payload.toChange(project)

	switch payload.Action {
	case "opened", "synchronize", "reopened":
		return &schedevent.PatchsetCreatedEvent{ChangeProject: project, Change: change}, change, nil
	case "closed":
		if payload.PullRequest.Merged {
			return &schedevent.ChangeMergedEvent{ChangeProject: project, Change: change}, change, nil
		}
		return &schedevent.ChangeAbandonedEvent{ChangeProject: project, Change: change}, change, nil
	default:
		return nil, nil, nil
	}
}

type ghIssueCommentPayload struct {
	Action     string `json:"action"`
	Issue      struct {
		Number      int    `json:"number"`
		PullRequest *struct{} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository ghRepo `json:"repository"`
}

// decodeIssueComment only reacts to comments on pull requests (an
// "issue" with no pull_request field is a plain issue, out of scope).
func (h *Handler) decodeIssueComment(body []byte) (schedevent.TriggerEvent, model.Change, error) {
	var payload ghIssueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("webhook: decoding issue_comment payload: %w", err)
	}
	if payload.Action != "created" || payload.Issue.PullRequest == nil {
		return nil, nil, nil
	}

	project := &model.Project{CanonicalHostname: h.canonicalHostname, Name: payload.Repository.FullName, SourceName: h.sourceName}
	change := &model.PullRequestChange{
		ChangeProject: project,
		Number:        fmt.Sprintf("%d", payload.Issue.Number),
		Refspec:       fmt.Sprintf("refs/pull/%d/head", payload.Issue.Number),
		SourceEvent:   "issue_comment",
	}
	event := &schedevent.CommentAddedEvent{
		ChangeProject: project,
		Change:        change,
		Comment:       payload.Comment.Body,
		Author:        payload.Comment.User.Login,
	}
	return event, change, nil
}

type ghPushPayload struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository ghRepo `json:"repository"`
}

func (h *Handler) decodePush(body []byte) (schedevent.TriggerEvent, model.Change, error) {
	var payload ghPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("webhook: decoding push payload: %w", err)
	}
	project := &model.Project{CanonicalHostname: h.canonicalHostname, Name: payload.Repository.FullName, SourceName: h.sourceName}
	change := &model.RefChange{
		ChangeProject: project,
		Ref:           payload.Ref,
		OldRev:        payload.Before,
		NewRev:        payload.After,
	}
	return &schedevent.RefUpdatedEvent{ChangeProject: project, Change: change}, change, nil
}
