package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/event"
)

// Enqueue durably appends an outbound envelope. The entry stays until
// Remove confirms a successful send; a crash in between leaves it
// loadable on the next start.
func (s *Store) Enqueue(env *event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope %s: %w", env.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO outbound_queue (id, ts, payload)
		VALUES (?, ?, ?)
	`, env.ID, env.TS.UTC(), string(payload))
	if err != nil {
		return fmt.Errorf("enqueueing envelope %s: %w", env.ID, err)
	}
	return nil
}

// LoadAll returns every pending envelope ordered by client timestamp
// ascending, the replay order flushQueue must honor.
func (s *Store) LoadAll() ([]*event.Envelope, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM outbound_queue ORDER BY ts ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("loading outbound queue: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close queue rows: %v", err)
		}
	}()

	var envelopes []*event.Envelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		var env event.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, fmt.Errorf("unmarshaling queued envelope: %w", err)
		}
		envelopes = append(envelopes, &env)
	}

	return envelopes, rows.Err()
}

// Remove deletes the envelope after the transport has accepted the
// send. Removing an already-removed id is a no-op.
func (s *Store) Remove(id string) error {
	if _, err := s.db.Exec(`DELETE FROM outbound_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing envelope %s: %w", id, err)
	}
	return nil
}

// QueueDepth returns the number of pending envelopes.
func (s *Store) QueueDepth() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM outbound_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbound queue: %w", err)
	}
	return n, nil
}

// OldestPending returns the ts of the oldest queued envelope, or the
// zero time when the queue is empty. Used by the status surface.
func (s *Store) OldestPending() (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRow(`SELECT MIN(ts) FROM outbound_queue`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading oldest pending ts: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}
