package domain

import (
	"context"
	"time"
)

// EventQueue is the durable, priority-ordered buffer for inbound events.
// Members are scored by eligible-at timestamp, so the same structure serves
// FIFO ordering and delayed retry scheduling.
type EventQueue interface {
	// Enqueue inserts a pending item, checking capacity and inserting as one
	// atomic operation. Returns ErrQueueFull when the queue is at capacity.
	Enqueue(ctx context.Context, item QueuedEvent) error

	// PopEligible removes and returns the earliest item whose eligible-at
	// score is <= now. A nil item with nil error means the queue holds no
	// eligible work, which is a normal drain-cycle terminal state.
	PopEligible(ctx context.Context, now time.Time) (*QueuedEvent, error)

	// Requeue re-inserts a failed item scored at eligibleAt. Retries bypass
	// the capacity check so an owned event is never dropped for capacity.
	Requeue(ctx context.Context, item QueuedEvent, eligibleAt time.Time) error

	// PushDeadLetter appends an entry to the dead-letter sink.
	PushDeadLetter(ctx context.Context, entry DeadLetterEntry) error

	Depth(ctx context.Context) (int64, error)
	DeadLetterDepth(ctx context.Context) (int64, error)
}

// EventLog is the retention-bounded, per-user/per-session store backing the
// recent-events query. It carries no authorization logic; callers gate access.
type EventLog interface {
	// Append records an accepted event in its session's log.
	Append(ctx context.Context, event Event) error

	// RecentEvents returns up to limit events for a user, newest first,
	// merged across all of that user's session logs.
	RecentEvents(ctx context.Context, userID string, limit int) ([]Event, error)
}

// EventSink is the durable append-only store for processed events.
type EventSink interface {
	// Store persists an event. Storing the same event id twice is a no-op.
	Store(ctx context.Context, event Event) error

	// AggregateStats returns dashboard aggregates over stored events.
	AggregateStats(ctx context.Context) (*EventAggregates, error)
}

// PresenceRepository tracks the derived online/offline view per user.
type PresenceRepository interface {
	// SetOnline adds or removes the user from the online set and stamps
	// last-seen.
	SetOnline(ctx context.Context, userID string, online bool) error

	// Touch refreshes the user's last-seen timestamp without changing the
	// online flag.
	Touch(ctx context.Context, userID string) error

	// OnlineUsers returns the current online set, unordered.
	OnlineUsers(ctx context.Context) ([]string, error)

	// LastSeen returns the last recorded timestamp for the user, or
	// ErrNotFound if the user was never seen.
	LastSeen(ctx context.Context, userID string) (time.Time, error)

	// Snapshot returns the combined online flag and last-seen view for a
	// user, or ErrNotFound if the user was never seen.
	Snapshot(ctx context.Context, userID string) (*PresenceRecord, error)
}

// WALRepository is the local append-only fallback used when the queue's
// backing store is unavailable.
type WALRepository interface {
	Write(ctx context.Context, item QueuedEvent) error

	// Replay feeds every logged item to the handler, oldest first. The
	// handler is responsible for re-enqueuing the item.
	Replay(ctx context.Context, handler func(item QueuedEvent) error) error

	// Truncate discards items that have been successfully replayed.
	Truncate(ctx context.Context) error
}

// EventAggregates holds dashboard statistics computed by the sink.
type EventAggregates struct {
	TotalEvents   int64            `json:"total_events"`
	DistinctUsers int64            `json:"distinct_users"`
	EventsByType  map[string]int64 `json:"events_by_type"`
}
