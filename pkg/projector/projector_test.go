package projector_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/crossbowhq/crossbow/pkg/projector"
	"github.com/crossbowhq/crossbow/pkg/store"
)

const pushPayload = `{
	"ref": "refs/heads/main",
	"repository": {
		"id": 135493233,
		"name": "Hello-World",
		"full_name": "Codertocat/Hello-World",
		"owner": {"login": "Codertocat"},
		"description": "demo repo",
		"private": false,
		"html_url": "https://github.com/Codertocat/Hello-World"
	},
	"commits": [
		{
			"id": "6113728f27ae82c7b1a177c8d03f9e96e0adf246",
			"message": "first commit",
			"author": {"name": "Codertocat", "email": "coder@tocat.dev"},
			"committer": {"name": "GitHub", "email": "noreply@github.com"},
			"timestamp": "2019-05-15T15:20:41Z",
			"url": "https://github.com/Codertocat/Hello-World/commit/6113728f"
		},
		{
			"id": "8f0e23b8c6a9e8f1c8f0a0b7e6d5c4b3a2918072",
			"message": "second commit",
			"author": {"name": "Codertocat", "email": "coder@tocat.dev"},
			"committer": {"name": "GitHub", "email": "noreply@github.com"},
			"timestamp": "2019-05-15T15:21:03Z",
			"url": "https://github.com/Codertocat/Hello-World/commit/8f0e23b8"
		}
	]
}`

const pullRequestPayload = `{
	"action": "opened",
	"repository": {
		"id": 135493233,
		"name": "Hello-World",
		"full_name": "Codertocat/Hello-World",
		"owner": {"login": "Codertocat"},
		"html_url": "https://github.com/Codertocat/Hello-World"
	},
	"pull_request": {
		"id": 279147437,
		"number": 2,
		"title": "Update the README with new information.",
		"state": "open",
		"user": {"login": "Codertocat"},
		"base": {"ref": "main"},
		"head": {"ref": "changes"},
		"html_url": "https://github.com/Codertocat/Hello-World/pull/2",
		"created_at": "2019-05-15T15:20:33Z",
		"closed_at": null,
		"merged_at": null
	}
}`

const issuesPayload = `{
	"action": "opened",
	"repository": {
		"id": 135493233,
		"name": "Hello-World",
		"full_name": "Codertocat/Hello-World",
		"owner": {"login": "Codertocat"},
		"html_url": "https://github.com/Codertocat/Hello-World"
	},
	"issue": {
		"id": 444500041,
		"number": 1,
		"title": "Spelling error in the README file",
		"state": "open",
		"user": {"login": "Codertocat"},
		"labels": [{"name": "bug"}, {"name": "good first issue"}],
		"html_url": "https://github.com/Codertocat/Hello-World/issues/1",
		"created_at": "2019-05-15T15:20:18Z",
		"closed_at": null
	}
}`

func newHarness(t *testing.T) (*store.Store, *projector.Projector) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(":memory:", true, 1, logger)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s, projector.New(s, logger)
}

func storedEvent(t *testing.T, s *store.Store, eventType, raw string) *store.Event {
	t.Helper()
	e := &store.Event{
		Source:     "github",
		EventType:  eventType,
		RawEvent:   raw,
		DeliveryID: uuid.New().String(),
	}
	if err := s.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("failed to store event: %v", err)
	}
	return e
}

func TestProcessPushProjectsRepositoryAndCommits(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	evt := storedEvent(t, s, "push", pushPayload)
	if err := p.Process(ctx, evt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	repos, err := s.ListRepositories(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(repos))
	}
	repo := repos[0]
	if repo.GithubID != 135493233 || repo.FullName != "Codertocat/Hello-World" {
		t.Errorf("unexpected repository: %+v", repo)
	}

	commits, err := s.ListCommitsByRepository(ctx, repo.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	for _, c := range commits {
		if c.WebhookEventID != evt.ID {
			t.Errorf("commit %s missing event provenance: %d", c.SHA, c.WebhookEventID)
		}
	}

	got, err := s.GetEvent(ctx, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Processed {
		t.Error("event not marked processed")
	}
	if got.RepositoryID == nil || *got.RepositoryID != repo.ID {
		t.Errorf("event repository back-reference = %v", got.RepositoryID)
	}
}

func TestProcessPushRedeliveryDoesNotDuplicate(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	first := storedEvent(t, s, "push", pushPayload)
	if err := p.Process(ctx, first); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	// Same payload redelivered as a fresh event.
	second := storedEvent(t, s, "push", pushPayload)
	if err := p.Process(ctx, second); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	commits, err := s.CountCommits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if commits != 2 {
		t.Errorf("redelivery duplicated commits: %d", commits)
	}

	repos, err := s.CountRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repos != 1 {
		t.Errorf("redelivery duplicated repositories: %d", repos)
	}
}

func TestProcessPullRequest(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	evt := storedEvent(t, s, "pull_request", pullRequestPayload)
	if err := p.Process(ctx, evt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	repo, err := s.FindRepositoryByFullName(ctx, "Codertocat/Hello-World")
	if err != nil || repo == nil {
		t.Fatalf("repository not upserted: %v %v", repo, err)
	}

	prs, err := s.ListPullRequestsByRepository(ctx, repo.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(prs) != 1 {
		t.Fatalf("expected 1 pull request, got %d", len(prs))
	}
	pr := prs[0]
	if pr.GithubID != 279147437 || pr.Number != 2 || pr.BaseBranch != "main" || pr.HeadBranch != "changes" {
		t.Errorf("unexpected pull request: %+v", pr)
	}
	if pr.ClosedAt != nil || pr.MergedAt != nil {
		t.Errorf("open PR should have nil closed_at/merged_at: %+v", pr)
	}
}

func TestProcessPullRequestMissingBaseRefAborts(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	broken := `{
		"action": "opened",
		"repository": {
			"id": 135493233,
			"name": "Hello-World",
			"full_name": "Codertocat/Hello-World",
			"owner": {"login": "Codertocat"},
			"html_url": "https://github.com/Codertocat/Hello-World"
		},
		"pull_request": {
			"id": 279147437,
			"number": 2,
			"title": "Update the README with new information.",
			"state": "open",
			"user": {"login": "Codertocat"},
			"head": {"ref": "changes"},
			"html_url": "https://github.com/Codertocat/Hello-World/pull/2",
			"created_at": "2019-05-15T15:20:33Z"
		}
	}`

	evt := storedEvent(t, s, "pull_request", broken)
	err := p.Process(ctx, evt)
	if err == nil {
		t.Fatal("expected projection to fail")
	}
	if !errors.Is(err, projector.ErrInvalidPayload) {
		t.Errorf("error should wrap ErrInvalidPayload: %v", err)
	}

	// Nothing was written and the event stays unprocessed.
	prs, err := s.CountPullRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if prs != 0 {
		t.Errorf("partial pull request row created: %d", prs)
	}
	repos, err := s.CountRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repos != 0 {
		t.Errorf("repository written for failed projection: %d", repos)
	}

	got, err := s.GetEvent(ctx, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Processed {
		t.Error("failed event must remain unprocessed")
	}
}

func TestProcessPushBadTimestampAbortsWholeEvent(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	broken := `{
		"repository": {
			"id": 1, "name": "x", "full_name": "acme/x",
			"owner": {"login": "acme"}, "html_url": "u"
		},
		"commits": [
			{
				"id": "aaa", "message": "ok",
				"author": {"name": "a", "email": "a@x"},
				"committer": {"name": "a", "email": "a@x"},
				"timestamp": "2019-05-15T15:20:41Z", "url": "u"
			},
			{
				"id": "bbb", "message": "broken",
				"author": {"name": "a", "email": "a@x"},
				"committer": {"name": "a", "email": "a@x"},
				"timestamp": "not a timestamp", "url": "u"
			}
		]
	}`

	evt := storedEvent(t, s, "push", broken)
	if err := p.Process(ctx, evt); !errors.Is(err, projector.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	// Extraction failed on the second commit before anything was
	// written, so even the first commit must not exist.
	commits, err := s.CountCommits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if commits != 0 {
		t.Errorf("partial commits written: %d", commits)
	}
}

func TestProcessIssues(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	evt := storedEvent(t, s, "issues", issuesPayload)
	if err := p.Process(ctx, evt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	repo, err := s.FindRepositoryByFullName(ctx, "Codertocat/Hello-World")
	if err != nil || repo == nil {
		t.Fatalf("repository not upserted: %v %v", repo, err)
	}

	issues, err := s.ListIssuesByRepository(ctx, repo.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.GithubID != 444500041 || issue.Number != 1 {
		t.Errorf("unexpected issue: %+v", issue)
	}
	if len(issue.Labels) != 2 || issue.Labels[0] != "bug" {
		t.Errorf("labels not projected: %v", issue.Labels)
	}
}

func TestProcessUnknownTypeMarksProcessedWithoutProjection(t *testing.T) {
	s, p := newHarness(t)
	ctx := context.Background()

	evt := storedEvent(t, s, "watch", `{"action":"started"}`)
	if err := p.Process(ctx, evt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := s.GetEvent(ctx, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Processed {
		t.Error("unrecognized event should still be marked processed")
	}
	if got.RepositoryID != nil {
		t.Errorf("no repository should be linked: %v", got.RepositoryID)
	}

	repos, err := s.CountRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repos != 0 {
		t.Errorf("unexpected repository rows: %d", repos)
	}
}

func TestProcessRejectsNonObjectPayload(t *testing.T) {
	s, p := newHarness(t)

	evt := storedEvent(t, s, "push", `["not","an","object"]`)
	if err := p.Process(context.Background(), evt); !errors.Is(err, projector.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
