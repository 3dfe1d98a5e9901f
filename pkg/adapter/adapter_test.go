package adapter_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/crossbowhq/crossbow/pkg/adapter"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return payload
}

func TestForSelectsAdapter(t *testing.T) {
	for _, source := range []string{"github", "gitlab", "auth0", "custom-ci"} {
		a := adapter.For(source)
		if a.Source() != source {
			t.Errorf("For(%q).Source() = %q", source, a.Source())
		}
	}
}

func TestGitHubDeliveryID(t *testing.T) {
	a := adapter.For("github")

	h := http.Header{}
	h.Set(adapter.HeaderGitHubDelivery, "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	id, ok := a.DeliveryID(h)
	if !ok {
		t.Fatal("expected delivery id to parse")
	}
	if id.String() != "72d3162e-cc78-11e3-81ab-4c9367dc0958" {
		t.Errorf("unexpected id %s", id)
	}

	h.Set(adapter.HeaderGitHubDelivery, "not-a-uuid")
	if _, ok := a.DeliveryID(h); ok {
		t.Error("malformed delivery id should not parse")
	}

	if _, ok := a.DeliveryID(http.Header{}); ok {
		t.Error("absent delivery header should not parse")
	}
}

func TestGitHubEventTypeFromHeader(t *testing.T) {
	a := adapter.For("github")

	h := http.Header{}
	h.Set(adapter.HeaderGitHubEvent, "push")
	if got := a.EventType(nil, h); got != "push" {
		t.Errorf("EventType = %q, want push", got)
	}

	if got := a.EventType(nil, http.Header{}); got != "unknown" {
		t.Errorf("EventType without header = %q, want unknown", got)
	}
}

func TestGitLabEventTypeFallsBackToObjectKind(t *testing.T) {
	a := adapter.For("gitlab")

	h := http.Header{}
	h.Set(adapter.HeaderGitLabEvent, "Push Hook")
	if got := a.EventType(nil, h); got != "Push Hook" {
		t.Errorf("EventType = %q", got)
	}

	payload := decode(t, `{"object_kind":"merge_request"}`)
	if got := a.EventType(payload, http.Header{}); got != "merge_request" {
		t.Errorf("EventType = %q, want merge_request", got)
	}

	if got := a.EventType(map[string]any{}, http.Header{}); got != "unknown" {
		t.Errorf("EventType = %q, want unknown", got)
	}
}

func TestGenericEventTypeCandidates(t *testing.T) {
	a := adapter.For("custom-ci")

	cases := []struct {
		payload string
		want    string
	}{
		{`{"type":"build.finished"}`, "build.finished"},
		{`{"event":"deploy"}`, "deploy"},
		{`{"event_type":"alert"}`, "alert"},
		{`{"unrelated":true}`, "webhook"},
	}

	for _, tc := range cases {
		if got := a.EventType(decode(t, tc.payload), http.Header{}); got != tc.want {
			t.Errorf("EventType(%s) = %q, want %q", tc.payload, got, tc.want)
		}
	}
}

func TestActionSharedAcrossSources(t *testing.T) {
	payload := decode(t, `{"action":"opened"}`)
	alt := decode(t, `{"event_action":"closed"}`)
	none := decode(t, `{}`)

	for _, source := range []string{"github", "gitlab", "auth0", "whatever"} {
		a := adapter.For(source)
		if got := a.Action(payload); got == nil || *got != "opened" {
			t.Errorf("%s: Action = %v, want opened", source, got)
		}
		if got := a.Action(alt); got == nil || *got != "closed" {
			t.Errorf("%s: Action = %v, want closed", source, got)
		}
		if got := a.Action(none); got != nil {
			t.Errorf("%s: Action = %v, want nil", source, got)
		}
	}
}

func TestSignatureHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(adapter.HeaderGitHubSignature, "sha256=abc")
	h.Set(adapter.HeaderGitLabToken, "secret-token")

	if sig := adapter.For("github").Signature(h); sig == nil || *sig != "sha256=abc" {
		t.Errorf("github signature = %v", sig)
	}
	if sig := adapter.For("gitlab").Signature(h); sig == nil || *sig != "secret-token" {
		t.Errorf("gitlab signature = %v", sig)
	}
	if sig := adapter.For("auth0").Signature(h); sig != nil {
		t.Errorf("auth0 signature = %v, want nil", sig)
	}
	if sig := adapter.For("custom-ci").Signature(h); sig != nil {
		t.Errorf("generic signature = %v, want nil", sig)
	}
}

func TestGitHubActor(t *testing.T) {
	a := adapter.For("github")

	actor := a.Actor(decode(t, `{"sender":{"login":"octocat","id":583231}}`))
	if actor.Name == nil || *actor.Name != "octocat" {
		t.Errorf("Name = %v", actor.Name)
	}
	if actor.ID == nil || *actor.ID != "octocat" {
		t.Errorf("ID = %v, want login to win over numeric id", actor.ID)
	}
	if actor.Email != nil {
		t.Errorf("Email = %v, want nil", actor.Email)
	}

	actor = a.Actor(decode(t, `{"pusher":{"name":"octocat","email":"octo@cat.dev"},"sender":{"id":583231}}`))
	if actor.Name == nil || *actor.Name != "octocat" {
		t.Errorf("pusher fallback Name = %v", actor.Name)
	}
	if actor.Email == nil || *actor.Email != "octo@cat.dev" {
		t.Errorf("pusher fallback Email = %v", actor.Email)
	}
	if actor.ID == nil || *actor.ID != "583231" {
		t.Errorf("numeric sender id fallback = %v", actor.ID)
	}

	actor = a.Actor(decode(t, `{}`))
	if actor.Name != nil || actor.Email != nil || actor.ID != nil {
		t.Errorf("empty payload should yield empty actor, got %+v", actor)
	}
}

func TestGitLabActor(t *testing.T) {
	a := adapter.For("gitlab")

	actor := a.Actor(decode(t, `{"user_username":"jdoe","user_email":"jdoe@example.com","user_id":42}`))
	if actor.Name == nil || *actor.Name != "jdoe" {
		t.Errorf("Name = %v", actor.Name)
	}
	if actor.Email == nil || *actor.Email != "jdoe@example.com" {
		t.Errorf("Email = %v", actor.Email)
	}
	if actor.ID == nil || *actor.ID != "42" {
		t.Errorf("ID = %v", actor.ID)
	}

	actor = a.Actor(decode(t, `{"user":{"username":"jdoe","email":"jdoe@example.com","id":7}}`))
	if actor.Name == nil || *actor.Name != "jdoe" {
		t.Errorf("nested Name = %v", actor.Name)
	}
	if actor.ID == nil || *actor.ID != "7" {
		t.Errorf("nested ID = %v", actor.ID)
	}
}

func TestAuth0Actor(t *testing.T) {
	a := adapter.For("auth0")

	actor := a.Actor(decode(t, `{"user":{"name":"Jane","email":"jane@example.com","user_id":"auth0|123"}}`))
	if actor.Name == nil || *actor.Name != "Jane" {
		t.Errorf("Name = %v", actor.Name)
	}
	if actor.ID == nil || *actor.ID != "auth0|123" {
		t.Errorf("ID = %v", actor.ID)
	}
}

func TestPayloadHelpers(t *testing.T) {
	payload := decode(t, `{
		"repository": {"id": 135493233, "private": false, "name": "Hello-World"},
		"commits": [{"id": "abc"}],
		"nested": {"deep": {"value": "x"}}
	}`)

	if v, ok := adapter.StringAt(payload, "nested", "deep", "value"); !ok || v != "x" {
		t.Errorf("StringAt = %q, %v", v, ok)
	}
	if _, ok := adapter.StringAt(payload, "nested", "missing", "value"); ok {
		t.Error("StringAt through missing object should fail")
	}
	if _, ok := adapter.StringAt(payload, "repository", "id"); ok {
		t.Error("StringAt on a number should fail")
	}
	if v, ok := adapter.Int64At(payload, "repository", "id"); !ok || v != 135493233 {
		t.Errorf("Int64At = %d, %v", v, ok)
	}
	if v, ok := adapter.BoolAt(payload, "repository", "private"); !ok || v {
		t.Errorf("BoolAt = %v, %v", v, ok)
	}
	if s, ok := adapter.SliceAt(payload, "commits"); !ok || len(s) != 1 {
		t.Errorf("SliceAt = %v, %v", s, ok)
	}
	if m, ok := adapter.MapAt(payload, "repository"); !ok || m["name"] != "Hello-World" {
		t.Errorf("MapAt = %v, %v", m, ok)
	}
}
