// Package inbox remembers which external events were already applied so a
// redelivered payment signal is ignored.
package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/barberqueue/libs/db"
)

type Inbox interface {
	// Record reports false when the event was already recorded.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	// Release forgets an event whose handling failed so a redelivery is
	// processed again.
	Release(ctx context.Context, eventID string) error
}

type PostgresInbox struct {
	pool *db.Pool
}

func NewPostgresInbox(pool *db.Pool) *PostgresInbox {
	return &PostgresInbox{pool: pool}
}

func (r *PostgresInbox) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

func (r *PostgresInbox) Release(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: make(map[string]string)}
}

func (m *MemoryInbox) Record(_ context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = eventType
	return true, nil
}

func (m *MemoryInbox) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}
