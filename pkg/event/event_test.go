package event

import (
	"strings"
	"testing"
	"time"
)

func TestParseActivityEvent(t *testing.T) {
	raw := []byte(`{
		"id": "ev-1",
		"type": "task.completed",
		"entityType": "task",
		"entityId": "t-9",
		"action": "completed",
		"timestamp": "2025-06-01T12:00:00Z",
		"actor": {"userId": "u-1", "name": "Dana", "department": "maintenance"},
		"metadata": {"tenant": "acme"}
	}`)

	ev, err := ParseActivityEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.ID != "ev-1" || ev.EntityType != "task" || ev.Action != "completed" {
		t.Errorf("fields lost: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %v", ev.Timestamp)
	}
	if ev.Actor == nil || ev.Actor.UserID != "u-1" {
		t.Errorf("actor lost: %+v", ev.Actor)
	}
	if ev.TenantHint() != "acme" {
		t.Errorf("tenant hint lost: %q", ev.TenantHint())
	}
}

func TestParseActivityEventRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `{{{`, "unmarshaling"},
		{"missing id", `{"type":"t","entityType":"task","action":"a","timestamp":"2025-06-01T12:00:00Z"}`, "missing id"},
		{"missing type", `{"id":"x","entityType":"task","action":"a","timestamp":"2025-06-01T12:00:00Z"}`, "missing type"},
		{"missing entityType", `{"id":"x","type":"t","action":"a","timestamp":"2025-06-01T12:00:00Z"}`, "missing entityType"},
		{"missing action", `{"id":"x","type":"t","entityType":"task","timestamp":"2025-06-01T12:00:00Z"}`, "missing action"},
		{"missing timestamp", `{"id":"x","type":"t","entityType":"task","action":"a"}`, "missing timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivityEvent([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTenantHintAbsent(t *testing.T) {
	ev := &ActivityEvent{Metadata: map[string]any{"tenant": 42}}
	if ev.TenantHint() != "" {
		t.Errorf("non-string tenant produced a hint: %q", ev.TenantHint())
	}
	ev = &ActivityEvent{}
	if ev.TenantHint() != "" {
		t.Errorf("nil metadata produced a hint: %q", ev.TenantHint())
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("acme", "u-1", KindReadAck, map[string]any{"messageId": "m-1"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.V != EnvelopeVersion {
		t.Errorf("wrong schema version: %d", env.V)
	}
	if env.ID == "" {
		t.Error("envelope missing generated id")
	}
	if env.TS.IsZero() || env.TS.Location() != time.UTC {
		t.Errorf("timestamp not a UTC instant: %v", env.TS)
	}
	if env.Tenant != "acme" || env.UserID != "u-1" || env.Kind != KindReadAck {
		t.Errorf("fields lost: %+v", env)
	}
}

func TestNewEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", "u-1", KindComment, nil); err == nil {
		t.Error("accepted empty tenant")
	}
	if _, err := NewEnvelope("acme", "", KindComment, nil); err == nil {
		t.Error("accepted empty user id")
	}
	if _, err := NewEnvelope("acme", "u-1", EnvelopeKind("carrier_pigeon"), nil); err == nil {
		t.Error("accepted unknown kind")
	}
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	a, _ := NewEnvelope("acme", "u-1", KindPresence, nil)
	b, _ := NewEnvelope("acme", "u-1", KindPresence, nil)
	if a.ID == b.ID {
		t.Errorf("duplicate envelope ids: %s", a.ID)
	}
}
