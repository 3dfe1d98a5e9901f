package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/crossbowhq/crossbow/pkg/store"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// parsePagination reads page/per_page query params. Page defaults to 1,
// per_page to 20 clamped to [1, 100].
func parsePagination(c echo.Context) (page, perPage, offset int) {
	page = 1
	if raw := c.QueryParam("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page = v
		}
	}

	perPage = defaultPerPage
	if raw := c.QueryParam("per_page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			perPage = v
		}
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return page, perPage, (page - 1) * perPage
}

// JSONEvent is the API view of a stored event: the raw payload is
// decoded back into an object for the client.
type JSONEvent struct {
	ID           int64          `json:"id"`
	Source       string         `json:"source"`
	EventType    string         `json:"event_type"`
	Action       *string        `json:"action"`
	ActorName    *string        `json:"actor_name"`
	ActorEmail   *string        `json:"actor_email"`
	ActorID      *string        `json:"actor_id"`
	RawEvent     map[string]any `json:"raw_event"`
	DeliveryID   string         `json:"delivery_id"`
	Signature    *string        `json:"signature"`
	ReceivedAt   time.Time      `json:"received_at"`
	Processed    bool           `json:"processed"`
	ProcessedAt  *time.Time     `json:"processed_at"`
	RepositoryID *int64         `json:"repository_id"`
}

func dbEventToJSONEvent(e store.Event) JSONEvent {
	var raw map[string]any
	if err := json.Unmarshal([]byte(e.RawEvent), &raw); err != nil {
		raw = map[string]any{"error": err.Error()}
	}

	return JSONEvent{
		ID:           e.ID,
		Source:       e.Source,
		EventType:    e.EventType,
		Action:       e.Action,
		ActorName:    e.ActorName,
		ActorEmail:   e.ActorEmail,
		ActorID:      e.ActorID,
		RawEvent:     raw,
		DeliveryID:   e.DeliveryID,
		Signature:    e.Signature,
		ReceivedAt:   e.ReceivedAt,
		Processed:    e.Processed,
		ProcessedAt:  e.ProcessedAt,
		RepositoryID: e.RepositoryID,
	}
}

type eventsResponse struct {
	Events  []JSONEvent `json:"events"`
	Total   int64       `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

// HandleListEvents handles the GET /events endpoint: the full filter
// set plus pagination. Count and search share one filter so the total
// can never disagree with the rows.
func (i *Ingestor) HandleListEvents(c echo.Context) error {
	page, perPage, offset := parsePagination(c)

	f := store.EventFilter{Search: c.QueryParam("search")}
	if v := c.QueryParam("source"); v != "" {
		f.Source = &v
	}
	if v := c.QueryParam("event_type"); v != "" {
		f.EventType = &v
	}
	if v := c.QueryParam("action"); v != "" {
		f.Action = &v
	}
	if v := c.QueryParam("actor_name"); v != "" {
		f.ActorName = &v
	}
	if raw := c.QueryParam("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			return errJSON(c, http.StatusBadRequest, "invalid processed value")
		}
		f.Processed = &processed
	}

	ctx := c.Request().Context()

	events, err := i.store.SearchEvents(ctx, f, perPage, offset)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	total, err := i.store.CountEvents(ctx, f)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	resp := eventsResponse{
		Events:  make([]JSONEvent, len(events)),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
	for n, e := range events {
		resp.Events[n] = dbEventToJSONEvent(e)
	}

	return c.JSON(http.StatusOK, resp)
}

type filtersResponse struct {
	Sources    []string `json:"sources"`
	EventTypes []string `json:"event_types"`
	Actions    []string `json:"actions"`
	ActorNames []string `json:"actor_names"`
}

// HandleEventFilters returns the distinct values observed for each
// filterable column, for building filter dropdowns.
func (i *Ingestor) HandleEventFilters(c echo.Context) error {
	ctx := c.Request().Context()

	sources, err := i.store.Sources(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	eventTypes, err := i.store.EventTypes(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	actions, err := i.store.Actions(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	actorNames, err := i.store.ActorNames(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, filtersResponse{
		Sources:    sources,
		EventTypes: eventTypes,
		Actions:    actions,
		ActorNames: actorNames,
	})
}

type repositoriesResponse struct {
	Repositories []store.Repository `json:"repositories"`
	Total        int64              `json:"total"`
	Page         int                `json:"page"`
	PerPage      int                `json:"per_page"`
}

// HandleListRepositories handles GET /repositories.
func (i *Ingestor) HandleListRepositories(c echo.Context) error {
	page, perPage, offset := parsePagination(c)
	ctx := c.Request().Context()

	repos, err := i.store.ListRepositories(ctx, perPage, offset)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	total, err := i.store.CountRepositories(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	if repos == nil {
		repos = []store.Repository{}
	}

	return c.JSON(http.StatusOK, repositoriesResponse{
		Repositories: repos,
		Total:        total,
		Page:         page,
		PerPage:      perPage,
	})
}

type repositoryDetailResponse struct {
	Repository   store.Repository    `json:"repository"`
	CommitCount  int64               `json:"commit_count"`
	Commits      []store.Commit      `json:"commits"`
	PullRequests []store.PullRequest `json:"pull_requests"`
	Issues       []store.Issue       `json:"issues"`
	Events       []JSONEvent         `json:"events"`
}

// HandleGetRepository handles GET /repositories/:id — the repository
// with its recent commits, pull requests, issues, and events.
func (i *Ingestor) HandleGetRepository(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid repository id")
	}

	ctx := c.Request().Context()

	repo, err := i.store.GetRepository(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errJSON(c, http.StatusNotFound, "repository not found")
	}
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	const recent = 20

	commits, err := i.store.ListCommitsByRepository(ctx, id, recent, 0)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	commitCount, err := i.store.CountCommitsByRepository(ctx, id)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	prs, err := i.store.ListPullRequestsByRepository(ctx, id, recent, 0)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	issues, err := i.store.ListIssuesByRepository(ctx, id, recent, 0)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	events, err := i.store.ListEventsByRepository(ctx, id, recent, 0)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	resp := repositoryDetailResponse{
		Repository:   *repo,
		CommitCount:  commitCount,
		Commits:      commits,
		PullRequests: prs,
		Issues:       issues,
		Events:       make([]JSONEvent, len(events)),
	}
	if resp.Commits == nil {
		resp.Commits = []store.Commit{}
	}
	if resp.PullRequests == nil {
		resp.PullRequests = []store.PullRequest{}
	}
	if resp.Issues == nil {
		resp.Issues = []store.Issue{}
	}
	for n, e := range events {
		resp.Events[n] = dbEventToJSONEvent(e)
	}

	return c.JSON(http.StatusOK, resp)
}

type statsResponse struct {
	Events       int64 `json:"events"`
	Processed    int64 `json:"processed"`
	Unprocessed  int64 `json:"unprocessed"`
	Repositories int64 `json:"repositories"`
	Commits      int64 `json:"commits"`
	PullRequests int64 `json:"pull_requests"`
	Issues       int64 `json:"issues"`
}

// HandleStats handles GET /stats with whole-system totals.
func (i *Ingestor) HandleStats(c echo.Context) error {
	ctx := c.Request().Context()

	events, err := i.store.CountEvents(ctx, store.EventFilter{})
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	processedTrue := true
	processed, err := i.store.CountEvents(ctx, store.EventFilter{Processed: &processedTrue})
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	repositories, err := i.store.CountRepositories(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	commits, err := i.store.CountCommits(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	prs, err := i.store.CountPullRequests(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	issues, err := i.store.CountIssues(ctx)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, statsResponse{
		Events:       events,
		Processed:    processed,
		Unprocessed:  events - processed,
		Repositories: repositories,
		Commits:      commits,
		PullRequests: prs,
		Issues:       issues,
	})
}
