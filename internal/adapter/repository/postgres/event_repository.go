package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/user/reader-relay/internal/domain"
)

// EventRepository implements domain.EventSink on PostgreSQL. Records are
// append-only; re-storing an event id is a no-op so drain retries after a
// partial failure stay idempotent.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger.With("component", "postgres_event_repository")}
}

// Store persists a single event.
func (r *EventRepository) Store(ctx context.Context, event domain.Event) error {
	const query = `
		INSERT INTO reader_events (event_id, user_id, session_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING;
	`

	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	if _, err := r.db.ExecContext(ctx, query,
		event.ID, event.UserID, event.SessionID, string(event.Type), payload, event.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}
	return nil
}

// AggregateStats computes dashboard aggregates over all stored events.
func (r *EventRepository) AggregateStats(ctx context.Context) (*domain.EventAggregates, error) {
	agg := &domain.EventAggregates{EventsByType: make(map[string]int64)}

	const totalsQuery = `SELECT COUNT(*), COUNT(DISTINCT user_id) FROM reader_events;`
	if err := r.db.QueryRowContext(ctx, totalsQuery).Scan(&agg.TotalEvents, &agg.DistinctUsers); err != nil {
		return nil, fmt.Errorf("failed to query event totals: %w", err)
	}

	const byTypeQuery = `SELECT event_type, COUNT(*) FROM reader_events GROUP BY event_type;`
	rows, err := r.db.QueryContext(ctx, byTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event type row: %w", err)
		}
		agg.EventsByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event type rows: %w", err)
	}

	return agg, nil
}
