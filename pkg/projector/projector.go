// Package projector derives typed domain rows (repositories, commits,
// pull requests, issues) from stored webhook events.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/araddon/dateparse"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crossbowhq/crossbow/pkg/adapter"
	"github.com/crossbowhq/crossbow/pkg/store"
)

var tracer = otel.Tracer("projector")

// ErrInvalidPayload marks a payload that is missing a required field or
// carries an unparseable timestamp. The whole event fails: nothing is
// written and the event stays unprocessed until redelivered.
var ErrInvalidPayload = errors.New("invalid payload")

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrInvalidPayload, field)
}

func badTimestamp(field string) error {
	return fmt.Errorf("%w: invalid timestamp in %s", ErrInvalidPayload, field)
}

type Projector struct {
	store  *store.Store
	logger *slog.Logger
}

func New(s *store.Store, logger *slog.Logger) *Projector {
	return &Projector{
		store:  s,
		logger: logger.With("component", "projector"),
	}
}

// Process projects one stored event into the domain model and marks it
// processed. Recognized event types are extracted in full before any
// write, so a missing field never leaves partial child rows behind.
// Unrecognized types are marked processed without projection.
func (p *Projector) Process(ctx context.Context, evt *store.Event) error {
	ctx, span := tracer.Start(ctx, "Process")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", evt.ID),
		attribute.String("event_type", evt.EventType),
	)

	var payload map[string]any
	if err := json.Unmarshal([]byte(evt.RawEvent), &payload); err != nil {
		return fmt.Errorf("%w: not a JSON object: %v", ErrInvalidPayload, err)
	}

	var repositoryID *int64

	switch evt.EventType {
	case "push":
		id, err := p.projectPush(ctx, evt, payload)
		if err != nil {
			return err
		}
		repositoryID = id
	case "pull_request":
		id, err := p.projectPullRequest(ctx, evt, payload)
		if err != nil {
			return err
		}
		repositoryID = id
	case "issues":
		id, err := p.projectIssues(ctx, evt, payload)
		if err != nil {
			return err
		}
		repositoryID = id
	default:
		p.logger.Debug("no projection for event type", "event_type", evt.EventType, "event_id", evt.ID)
	}

	if err := p.store.MarkProcessed(ctx, evt.ID, repositoryID); err != nil {
		return err
	}

	return nil
}

func (p *Projector) projectPush(ctx context.Context, evt *store.Event, payload map[string]any) (*int64, error) {
	repo, err := extractRepository(payload)
	if err != nil {
		return nil, err
	}

	raw, ok := adapter.SliceAt(payload, "commits")
	if !ok {
		return nil, missing("commits array")
	}

	commits := make([]store.Commit, 0, len(raw))
	for _, entry := range raw {
		data, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: commit entry is not an object", ErrInvalidPayload)
		}
		c, err := extractCommit(data)
		if err != nil {
			return nil, err
		}
		c.WebhookEventID = evt.ID
		commits = append(commits, *c)
	}

	// Repository first: children need its surrogate id.
	if err := p.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}

	for i := range commits {
		commits[i].RepositoryID = repo.ID
		if err := p.store.UpsertCommit(ctx, &commits[i]); err != nil {
			return nil, err
		}
	}

	return &repo.ID, nil
}

func (p *Projector) projectPullRequest(ctx context.Context, evt *store.Event, payload map[string]any) (*int64, error) {
	repo, err := extractRepository(payload)
	if err != nil {
		return nil, err
	}

	pr, err := extractPullRequest(payload)
	if err != nil {
		return nil, err
	}
	pr.WebhookEventID = evt.ID

	if err := p.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}

	pr.RepositoryID = repo.ID
	if err := p.store.UpsertPullRequest(ctx, pr); err != nil {
		return nil, err
	}

	return &repo.ID, nil
}

func (p *Projector) projectIssues(ctx context.Context, evt *store.Event, payload map[string]any) (*int64, error) {
	repo, err := extractRepository(payload)
	if err != nil {
		return nil, err
	}

	issue, err := extractIssue(payload)
	if err != nil {
		return nil, err
	}
	issue.WebhookEventID = evt.ID

	if err := p.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}

	issue.RepositoryID = repo.ID
	if err := p.store.UpsertIssue(ctx, issue); err != nil {
		return nil, err
	}

	return &repo.ID, nil
}

func extractRepository(payload map[string]any) (*store.Repository, error) {
	githubID, ok := adapter.Int64At(payload, "repository", "id")
	if !ok {
		return nil, missing("repository id")
	}
	name, ok := adapter.StringAt(payload, "repository", "name")
	if !ok {
		return nil, missing("repository name")
	}
	fullName, ok := adapter.StringAt(payload, "repository", "full_name")
	if !ok {
		return nil, missing("repository full_name")
	}
	owner, ok := adapter.StringAt(payload, "repository", "owner", "login")
	if !ok {
		return nil, missing("repository owner")
	}
	url, ok := adapter.StringAt(payload, "repository", "html_url")
	if !ok {
		return nil, missing("repository url")
	}

	repo := &store.Repository{
		GithubID: githubID,
		Name:     name,
		FullName: fullName,
		Owner:    owner,
		URL:      url,
	}

	if desc, ok := adapter.StringAt(payload, "repository", "description"); ok {
		repo.Description = &desc
	}
	if private, ok := adapter.BoolAt(payload, "repository", "private"); ok {
		repo.IsPrivate = private
	}

	return repo, nil
}

func extractCommit(data map[string]any) (*store.Commit, error) {
	sha, ok := adapter.StringAt(data, "id")
	if !ok {
		return nil, missing("commit sha")
	}
	message, ok := adapter.StringAt(data, "message")
	if !ok {
		return nil, missing("commit message")
	}
	authorName, ok := adapter.StringAt(data, "author", "name")
	if !ok {
		return nil, missing("commit author name")
	}
	authorEmail, ok := adapter.StringAt(data, "author", "email")
	if !ok {
		return nil, missing("commit author email")
	}
	committerName, ok := adapter.StringAt(data, "committer", "name")
	if !ok {
		return nil, missing("commit committer name")
	}
	committerEmail, ok := adapter.StringAt(data, "committer", "email")
	if !ok {
		return nil, missing("commit committer email")
	}
	committedAt, err := requireTime(data, "timestamp")
	if err != nil {
		return nil, err
	}
	url, ok := adapter.StringAt(data, "url")
	if !ok {
		return nil, missing("commit url")
	}

	return &store.Commit{
		SHA:            sha,
		Message:        message,
		AuthorName:     authorName,
		AuthorEmail:    authorEmail,
		CommitterName:  committerName,
		CommitterEmail: committerEmail,
		CommittedAt:    committedAt,
		URL:            url,
	}, nil
}

func extractPullRequest(payload map[string]any) (*store.PullRequest, error) {
	data, ok := adapter.MapAt(payload, "pull_request")
	if !ok {
		return nil, missing("pull_request object")
	}

	githubID, ok := adapter.Int64At(data, "id")
	if !ok {
		return nil, missing("pull request id")
	}
	number, ok := adapter.Int64At(data, "number")
	if !ok {
		return nil, missing("pull request number")
	}
	title, ok := adapter.StringAt(data, "title")
	if !ok {
		return nil, missing("pull request title")
	}
	state, ok := adapter.StringAt(data, "state")
	if !ok {
		return nil, missing("pull request state")
	}
	author, ok := adapter.StringAt(data, "user", "login")
	if !ok {
		return nil, missing("pull request author")
	}
	baseBranch, ok := adapter.StringAt(data, "base", "ref")
	if !ok {
		return nil, missing("pull request base branch")
	}
	headBranch, ok := adapter.StringAt(data, "head", "ref")
	if !ok {
		return nil, missing("pull request head branch")
	}
	url, ok := adapter.StringAt(data, "html_url")
	if !ok {
		return nil, missing("pull request url")
	}
	openedAt, err := requireTime(data, "created_at")
	if err != nil {
		return nil, err
	}

	return &store.PullRequest{
		GithubID:   githubID,
		Number:     int(number),
		Title:      title,
		State:      state,
		Author:     author,
		BaseBranch: baseBranch,
		HeadBranch: headBranch,
		URL:        url,
		OpenedAt:   openedAt,
		ClosedAt:   optionalTime(data, "closed_at"),
		MergedAt:   optionalTime(data, "merged_at"),
	}, nil
}

func extractIssue(payload map[string]any) (*store.Issue, error) {
	data, ok := adapter.MapAt(payload, "issue")
	if !ok {
		return nil, missing("issue object")
	}

	githubID, ok := adapter.Int64At(data, "id")
	if !ok {
		return nil, missing("issue id")
	}
	number, ok := adapter.Int64At(data, "number")
	if !ok {
		return nil, missing("issue number")
	}
	title, ok := adapter.StringAt(data, "title")
	if !ok {
		return nil, missing("issue title")
	}
	state, ok := adapter.StringAt(data, "state")
	if !ok {
		return nil, missing("issue state")
	}
	author, ok := adapter.StringAt(data, "user", "login")
	if !ok {
		return nil, missing("issue author")
	}
	url, ok := adapter.StringAt(data, "html_url")
	if !ok {
		return nil, missing("issue url")
	}
	openedAt, err := requireTime(data, "created_at")
	if err != nil {
		return nil, err
	}

	var labels store.StringList
	if raw, ok := adapter.SliceAt(data, "labels"); ok {
		for _, entry := range raw {
			label, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := adapter.StringAt(label, "name"); ok {
				labels = append(labels, name)
			}
		}
	}

	return &store.Issue{
		GithubID: githubID,
		Number:   int(number),
		Title:    title,
		State:    state,
		Author:   author,
		Labels:   labels,
		URL:      url,
		OpenedAt: openedAt,
		ClosedAt: optionalTime(data, "closed_at"),
	}, nil
}

// requireTime parses a mandatory timestamp field; absence and parse
// failure both fail the event.
func requireTime(data map[string]any, field string) (time.Time, error) {
	raw, ok := adapter.StringAt(data, field)
	if !ok {
		return time.Time{}, missing(field)
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, badTimestamp(field)
	}
	return t, nil
}

// optionalTime parses an optional timestamp; anything unparseable
// degrades to nil.
func optionalTime(data map[string]any, field string) *time.Time {
	raw, ok := adapter.StringAt(data, field)
	if !ok {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}
