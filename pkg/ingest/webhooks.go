package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/crossbowhq/crossbow/pkg/adapter"
	"github.com/crossbowhq/crossbow/pkg/signature"
	"github.com/crossbowhq/crossbow/pkg/store"
)

type receivedResponse struct {
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
	EventID   int64  `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
}

// HandleGitHubWebhook is the legacy GitHub-only endpoint. All three
// GitHub headers are mandatory here; the generic endpoint is the
// lenient one.
func (i *Ingestor) HandleGitHubWebhook(c echo.Context) error {
	if i.limiter != nil && !i.limiter.Allow("github") {
		webhooksRejected.WithLabelValues("github", "rate_limited").Inc()
		return errJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read request body")
	}

	h := c.Request().Header

	eventType := h.Get(adapter.HeaderGitHubEvent)
	if eventType == "" {
		webhooksRejected.WithLabelValues("github", "missing_header").Inc()
		return errJSON(c, http.StatusBadRequest, "missing X-GitHub-Event header")
	}

	deliveryID, err := uuid.Parse(h.Get(adapter.HeaderGitHubDelivery))
	if err != nil {
		webhooksRejected.WithLabelValues("github", "missing_header").Inc()
		return errJSON(c, http.StatusBadRequest, "invalid X-GitHub-Delivery header")
	}

	sig := h.Get(adapter.HeaderGitHubSignature)
	if sig == "" {
		webhooksRejected.WithLabelValues("github", "missing_header").Inc()
		return errJSON(c, http.StatusBadRequest, "missing X-Hub-Signature-256 header")
	}

	if !signature.Verify(i.githubSecret, body, sig) {
		webhooksRejected.WithLabelValues("github", "bad_signature").Inc()
		i.logger.Warn("invalid webhook signature", "delivery_id", deliveryID)
		return errJSON(c, http.StatusUnauthorized, "invalid signature")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		webhooksRejected.WithLabelValues("github", "bad_json").Inc()
		return errJSON(c, http.StatusBadRequest, "invalid JSON payload")
	}

	a := adapter.For("github")
	actor := a.Actor(payload)

	evt := store.Event{
		Source:       "github",
		EventType:    eventType,
		Action:       a.Action(payload),
		ActorName:    actor.Name,
		ActorEmail:   actor.Email,
		ActorID:      actor.ID,
		RawEvent:     string(body),
		DeliveryID:   deliveryID.String(),
		Signature:    &sig,
		RepositoryID: i.prelinkRepository(c.Request().Context(), payload),
	}

	if err := i.store.CreateEvent(c.Request().Context(), &evt); err != nil {
		i.logger.Error("failed to store event", "error", err, "delivery_id", deliveryID)
		return errJSON(c, http.StatusInternalServerError, "failed to store event")
	}

	webhooksReceived.WithLabelValues("github", eventType).Inc()
	i.logger.Info("received github webhook", "event_type", eventType, "delivery_id", deliveryID, "event_id", evt.ID)

	i.dispatch(evt)

	return c.JSON(http.StatusOK, receivedResponse{
		Status:  "received",
		EventID: evt.ID,
	})
}

// HandleGenericWebhook accepts webhooks from any source named in the
// path. Missing delivery ids are generated; only github deliveries are
// signature-checked, the rest pass through unauthenticated.
func (i *Ingestor) HandleGenericWebhook(c echo.Context) error {
	source := c.Param("source")

	if i.limiter != nil && !i.limiter.Allow(source) {
		webhooksRejected.WithLabelValues(source, "rate_limited").Inc()
		return errJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read request body")
	}

	h := c.Request().Header
	a := adapter.For(source)

	deliveryID, ok := a.DeliveryID(h)
	if !ok {
		deliveryID = uuid.New()
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		webhooksRejected.WithLabelValues(source, "bad_json").Inc()
		i.logger.Error("failed to parse webhook payload", "source", source, "error", err)
		return errJSON(c, http.StatusBadRequest, "invalid JSON payload")
	}

	eventType := a.EventType(payload, h)
	sig := a.Signature(h)

	if source == "github" {
		if sig == nil {
			webhooksRejected.WithLabelValues(source, "bad_signature").Inc()
			i.logger.Warn("missing github signature", "delivery_id", deliveryID)
			return errJSON(c, http.StatusUnauthorized, "missing signature")
		}
		if !signature.Verify(i.githubSecret, body, *sig) {
			webhooksRejected.WithLabelValues(source, "bad_signature").Inc()
			i.logger.Warn("invalid github signature", "delivery_id", deliveryID)
			return errJSON(c, http.StatusUnauthorized, "invalid signature")
		}
	}

	actor := a.Actor(payload)

	evt := store.Event{
		Source:       source,
		EventType:    eventType,
		Action:       a.Action(payload),
		ActorName:    actor.Name,
		ActorEmail:   actor.Email,
		ActorID:      actor.ID,
		RawEvent:     string(body),
		DeliveryID:   deliveryID.String(),
		Signature:    sig,
		RepositoryID: i.prelinkRepository(c.Request().Context(), payload),
	}

	if err := i.store.CreateEvent(c.Request().Context(), &evt); err != nil {
		i.logger.Error("failed to store event", "source", source, "error", err)
		return errJSON(c, http.StatusInternalServerError, "failed to store event")
	}

	webhooksReceived.WithLabelValues(source, eventType).Inc()
	i.logger.Info("received webhook", "source", source, "event_type", eventType,
		"delivery_id", deliveryID, "event_id", evt.ID)

	i.dispatch(evt)

	return c.JSON(http.StatusOK, receivedResponse{
		Status:    "received",
		Source:    source,
		EventID:   evt.ID,
		EventType: eventType,
	})
}
