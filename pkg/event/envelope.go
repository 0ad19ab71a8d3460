package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current outbound wire schema version.
const EnvelopeVersion = 1

// EnvelopeKind enumerates the message kinds the client publishes to
// its outbox topic.
type EnvelopeKind string

const (
	KindPresence EnvelopeKind = "presence"
	KindReadAck  EnvelopeKind = "read_ack"
	KindComment  EnvelopeKind = "comment"
	KindSignal   EnvelopeKind = "signal"
)

func (k EnvelopeKind) valid() bool {
	switch k {
	case KindPresence, KindReadAck, KindComment, KindSignal:
		return true
	}
	return false
}

// Envelope is a message the client wants delivered to the broker. It
// is persisted in the outbound queue until a live connection accepts
// the send.
type Envelope struct {
	V       int            `json:"v"`
	ID      string         `json:"id"`
	TS      time.Time      `json:"ts"`
	Tenant  string         `json:"tenant"`
	UserID  string         `json:"userId"`
	Kind    EnvelopeKind   `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEnvelope constructs an envelope with a fresh id and a
// client-issued timestamp.
func NewEnvelope(tenant, userID string, kind EnvelopeKind, payload map[string]any) (*Envelope, error) {
	if tenant == "" || userID == "" {
		return nil, fmt.Errorf("envelope requires tenant and user id")
	}
	if !kind.valid() {
		return nil, fmt.Errorf("unknown envelope kind %q", kind)
	}
	return &Envelope{
		V:       EnvelopeVersion,
		ID:      uuid.NewString(),
		TS:      time.Now().UTC(),
		Tenant:  tenant,
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
	}, nil
}
