// Package ingest is the HTTP surface of the service: the webhook
// ingestion endpoints plus the read-only query API the dashboard
// consumes.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/crossbowhq/crossbow/pkg/adapter"
	"github.com/crossbowhq/crossbow/pkg/projector"
	"github.com/crossbowhq/crossbow/pkg/store"
)

type Ingestor struct {
	store     *store.Store
	projector *projector.Projector

	// githubSecret signs github deliveries. Only github traffic is
	// authenticated on the generic path; other sources pass through
	// unauthenticated.
	githubSecret string

	limiter *sourceLimiter
	logger  *slog.Logger

	// projections tracks in-flight background projections so a
	// graceful shutdown can drain them. A crash still loses them:
	// there is no durable queue and no retry.
	projections sync.WaitGroup
}

type Config struct {
	GitHubSecret string
	// RatePerMinute caps deliveries per source; 0 disables limiting.
	RatePerMinute int
}

func New(s *store.Store, p *projector.Projector, cfg Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:        s,
		projector:    p,
		githubSecret: cfg.GitHubSecret,
		limiter:      newSourceLimiter(cfg.RatePerMinute),
		logger:       logger.With("component", "ingest"),
	}
}

// Routes registers every endpoint on e.
func (i *Ingestor) Routes(e *echo.Echo) {
	e.POST("/webhooks/github", i.HandleGitHubWebhook)
	e.POST("/webhook/:source", i.HandleGenericWebhook)

	e.GET("/events", i.HandleListEvents)
	e.GET("/events/filters", i.HandleEventFilters)
	e.GET("/repositories", i.HandleListRepositories)
	e.GET("/repositories/:id", i.HandleGetRepository)
	e.GET("/stats", i.HandleStats)
}

// Wait blocks until all in-flight projections finish.
func (i *Ingestor) Wait() {
	i.projections.Wait()
}

// dispatch kicks off the background projection for a freshly stored
// event. The HTTP response has already been committed by the time this
// runs; failures are logged and the event stays unprocessed.
func (i *Ingestor) dispatch(evt store.Event) {
	i.projections.Add(1)
	go func() {
		defer i.projections.Done()

		ctx := context.Background()
		logger := i.logger.With("source", evt.Source, "event_id", evt.ID, "event_type", evt.EventType)
		start := time.Now()

		var err error
		switch evt.Source {
		case "github":
			err = i.projector.Process(ctx, &evt)
		default:
			// No projector for this source yet; the event is still
			// marked processed so it leaves the backlog.
			err = i.store.MarkProcessed(ctx, evt.ID, nil)
		}

		projectionDuration.WithLabelValues(evt.Source).Observe(time.Since(start).Seconds())

		if err != nil {
			projectionsFinished.WithLabelValues(evt.Source, "error").Inc()
			logger.Error("failed to process event", "error", err)
			return
		}

		projectionsFinished.WithLabelValues(evt.Source, "ok").Inc()
		logger.Info("processed event")
	}()
}

type errorResponse struct {
	Error string `json:"error"`
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// prelinkRepository resolves the repository the payload talks about, if
// we have already seen it. Best effort: lookup errors are logged, never
// fatal; the projector sets the definitive link later.
func (i *Ingestor) prelinkRepository(ctx context.Context, payload map[string]any) *int64 {
	fullName, ok := adapter.StringAt(payload, "repository", "full_name")
	if !ok {
		return nil
	}

	repo, err := i.store.FindRepositoryByFullName(ctx, fullName)
	if err != nil {
		i.logger.Error("failed to look up repository", "full_name", fullName, "error", err)
		return nil
	}
	if repo == nil {
		return nil
	}
	return &repo.ID
}
