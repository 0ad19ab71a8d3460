package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityEvent is an immutable record of a state change on the
// server, delivered at-least-once over the activity stream or the
// broker inbox topic.
type ActivityEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	Timestamp  time.Time      `json:"timestamp"`
	Actor      *Actor         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Actor identifies who caused the change, when the server knows.
type Actor struct {
	UserID     string `json:"userId"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
}

// ParseActivityEvent is the schema-validation boundary for inbound
// payloads. A non-nil error means "rejected": the caller drops the
// payload and moves on; it is never fatal.
func ParseActivityEvent(data []byte) (*ActivityEvent, error) {
	var ev ActivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshaling activity event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks the fields every accepted event must carry.
func (e *ActivityEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("activity event missing id")
	}
	if e.Type == "" {
		return fmt.Errorf("activity event %s missing type", e.ID)
	}
	if e.EntityType == "" {
		return fmt.Errorf("activity event %s missing entityType", e.ID)
	}
	if e.Action == "" {
		return fmt.Errorf("activity event %s missing action", e.ID)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("activity event %s missing timestamp", e.ID)
	}
	return nil
}

// TenantHint returns the tenant carried in metadata, if any. The
// router falls back to the session tenant when this is empty.
func (e *ActivityEvent) TenantHint() string {
	if e.Metadata == nil {
		return ""
	}
	if t, ok := e.Metadata["tenant"].(string); ok {
		return t
	}
	return ""
}
