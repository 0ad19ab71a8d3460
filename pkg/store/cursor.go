package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Cursor keys are namespaced per tenant so one database can serve
// multiple portal sessions.
func cursorKey(tenant string) string {
	return "stream_cursor:" + tenant
}

// SetCursor durably records the last accepted stream position for
// tenant. Callers persist the cursor before dispatching side effects
// so a crash can redeliver but never lose events.
func (s *Store) SetCursor(tenant, id string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
	`, cursorKey(tenant), id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persisting cursor for tenant %s: %w", tenant, err)
	}
	return nil
}

// Cursor returns the persisted stream cursor for tenant, or "" when
// none exists (first run or after a server-signaled reset).
func (s *Store) Cursor(tenant string) (string, error) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM sync_state WHERE key = ?
	`, cursorKey(tenant)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading cursor for tenant %s: %w", tenant, err)
	}
	return value, nil
}

// ClearCursor removes the persisted cursor so the next stream connect
// starts without a lastEventId.
func (s *Store) ClearCursor(tenant string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE key = ?`, cursorKey(tenant)); err != nil {
		return fmt.Errorf("clearing cursor for tenant %s: %w", tenant, err)
	}
	return nil
}
