// Package adapter translates provider-specific webhook conventions
// (headers, payload layout) into the generic event envelope.
package adapter

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// Well-known webhook headers.
const (
	HeaderGitHubEvent     = "X-GitHub-Event"
	HeaderGitHubDelivery  = "X-GitHub-Delivery"
	HeaderGitHubSignature = "X-Hub-Signature-256"

	HeaderGitLabEvent     = "X-Gitlab-Event"
	HeaderGitLabEventUUID = "X-Gitlab-Event-UUID"
	HeaderGitLabToken     = "X-Gitlab-Token"
)

// Actor is the best-effort identity of the user that triggered a webhook.
type Actor struct {
	Name  *string
	Email *string
	ID    *string
}

// Adapter extracts envelope fields from a raw webhook delivery. Every
// method is lenient: unknown shapes yield zero values, never errors.
type Adapter interface {
	// Source is the identifier this adapter serves.
	Source() string

	// DeliveryID parses the source's delivery header, if it has one.
	DeliveryID(h http.Header) (uuid.UUID, bool)

	// EventType classifies the delivery, falling back to a
	// source-defined default when nothing matches.
	EventType(payload map[string]any, h http.Header) string

	// Action reads the event action from the payload.
	Action(payload map[string]any) *string

	// Signature returns the raw signature header value, if the source
	// signs its deliveries.
	Signature(h http.Header) *string

	// Actor extracts the triggering user's identity.
	Actor(payload map[string]any) Actor
}

// For selects the adapter for a source. Unrecognized sources get the
// generic fallback adapter.
func For(source string) Adapter {
	switch source {
	case "github":
		return githubAdapter{}
	case "gitlab":
		return gitlabAdapter{}
	case "auth0":
		return auth0Adapter{}
	default:
		return genericAdapter{source: source}
	}
}

// actionOf is shared by all adapters: the action lives in "action" or
// "event_action" regardless of source.
func actionOf(payload map[string]any) *string {
	return firstStringOf(payload, []string{"action"}, []string{"event_action"})
}

func parseDeliveryHeader(h http.Header, name string) (uuid.UUID, bool) {
	raw := h.Get(name)
	if raw == "" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

func headerValue(h http.Header, name string) *string {
	if v := h.Get(name); v != "" {
		return &v
	}
	return nil
}

type githubAdapter struct{}

func (githubAdapter) Source() string { return "github" }

func (githubAdapter) DeliveryID(h http.Header) (uuid.UUID, bool) {
	return parseDeliveryHeader(h, HeaderGitHubDelivery)
}

func (githubAdapter) EventType(_ map[string]any, h http.Header) string {
	if v := h.Get(HeaderGitHubEvent); v != "" {
		return v
	}
	return "unknown"
}

func (githubAdapter) Action(payload map[string]any) *string {
	return actionOf(payload)
}

func (githubAdapter) Signature(h http.Header) *string {
	return headerValue(h, HeaderGitHubSignature)
}

func (githubAdapter) Actor(payload map[string]any) Actor {
	a := Actor{
		Name:  firstStringOf(payload, []string{"sender", "login"}, []string{"pusher", "name"}),
		Email: firstStringOf(payload, []string{"sender", "email"}, []string{"pusher", "email"}),
	}

	if login, ok := StringAt(payload, "sender", "login"); ok {
		a.ID = &login
	} else if id, ok := Int64At(payload, "sender", "id"); ok {
		s := strconv.FormatInt(id, 10)
		a.ID = &s
	}

	return a
}

type gitlabAdapter struct{}

func (gitlabAdapter) Source() string { return "gitlab" }

func (gitlabAdapter) DeliveryID(h http.Header) (uuid.UUID, bool) {
	return parseDeliveryHeader(h, HeaderGitLabEventUUID)
}

func (gitlabAdapter) EventType(payload map[string]any, h http.Header) string {
	if v := h.Get(HeaderGitLabEvent); v != "" {
		return v
	}
	if kind, ok := StringAt(payload, "object_kind"); ok {
		return kind
	}
	return "unknown"
}

func (gitlabAdapter) Action(payload map[string]any) *string {
	return actionOf(payload)
}

func (gitlabAdapter) Signature(h http.Header) *string {
	return headerValue(h, HeaderGitLabToken)
}

func (gitlabAdapter) Actor(payload map[string]any) Actor {
	a := Actor{
		Name:  firstStringOf(payload, []string{"user_username"}, []string{"user", "username"}),
		Email: firstStringOf(payload, []string{"user_email"}, []string{"user", "email"}),
	}

	if id, ok := Int64At(payload, "user_id"); ok {
		s := strconv.FormatInt(id, 10)
		a.ID = &s
	} else if id, ok := Int64At(payload, "user", "id"); ok {
		s := strconv.FormatInt(id, 10)
		a.ID = &s
	}

	return a
}

type auth0Adapter struct{}

func (auth0Adapter) Source() string { return "auth0" }

func (auth0Adapter) DeliveryID(http.Header) (uuid.UUID, bool) {
	return uuid.UUID{}, false
}

func (auth0Adapter) EventType(payload map[string]any, _ http.Header) string {
	if t := firstStringOf(payload, []string{"type"}, []string{"event"}); t != nil {
		return *t
	}
	return "unknown"
}

func (auth0Adapter) Action(payload map[string]any) *string {
	return actionOf(payload)
}

func (auth0Adapter) Signature(http.Header) *string { return nil }

func (auth0Adapter) Actor(payload map[string]any) Actor {
	return Actor{
		Name:  firstStringOf(payload, []string{"user", "name"}, []string{"user", "username"}),
		Email: firstStringOf(payload, []string{"user", "email"}),
		ID:    firstStringOf(payload, []string{"user", "user_id"}, []string{"user", "id"}),
	}
}

// genericAdapter handles sources nobody wrote an adapter for. It guesses
// at common field names and signs nothing.
type genericAdapter struct {
	source string
}

func (a genericAdapter) Source() string { return a.source }

func (genericAdapter) DeliveryID(http.Header) (uuid.UUID, bool) {
	return uuid.UUID{}, false
}

func (genericAdapter) EventType(payload map[string]any, _ http.Header) string {
	if t := firstStringOf(payload, []string{"type"}, []string{"event"}, []string{"event_type"}); t != nil {
		return *t
	}
	return "webhook"
}

func (genericAdapter) Action(payload map[string]any) *string {
	return actionOf(payload)
}

func (genericAdapter) Signature(http.Header) *string { return nil }

func (genericAdapter) Actor(payload map[string]any) Actor {
	return Actor{
		Name:  firstStringOf(payload, []string{"actor"}, []string{"user"}, []string{"username"}),
		Email: firstStringOf(payload, []string{"email"}),
		ID:    firstStringOf(payload, []string{"actor_id"}, []string{"user_id"}),
	}
}
