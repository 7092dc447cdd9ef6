package usecase

import (
	"context"
	"fmt"

	"github.com/user/reader-relay/internal/domain"
)

// Stats aggregates the operational state of the relay for health checks.
type Stats struct {
	QueueDepth      int64                   `json:"queue_depth"`
	DeadLetterDepth int64                   `json:"dead_letter_depth"`
	DrainActive     bool                    `json:"drain_active"`
	OnlineUsers     int                     `json:"online_users"`
	Aggregates      *domain.EventAggregates `json:"aggregates,omitempty"`
}

// StatsUseCase answers the operator-facing getStats query.
type StatsUseCase struct {
	queue    domain.EventQueue
	presence domain.PresenceRepository
	sink     domain.EventSink
	drain    *ProcessEventsUseCase
}

// NewStatsUseCase creates a new StatsUseCase.
func NewStatsUseCase(queue domain.EventQueue, presence domain.PresenceRepository, sink domain.EventSink, drain *ProcessEventsUseCase) *StatsUseCase {
	return &StatsUseCase{
		queue:    queue,
		presence: presence,
		sink:     sink,
		drain:    drain,
	}
}

// GetStats collects queue, presence and sink aggregates.
func (uc *StatsUseCase) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{DrainActive: uc.drain.DrainActive()}

	depth, err := uc.queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	stats.QueueDepth = depth

	dlqDepth, err := uc.queue.DeadLetterDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter depth: %w", err)
	}
	stats.DeadLetterDepth = dlqDepth

	online, err := uc.presence.OnlineUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read online users: %w", err)
	}
	stats.OnlineUsers = len(online)

	agg, err := uc.sink.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read event aggregates: %w", err)
	}
	stats.Aggregates = agg

	return stats, nil
}

// UserPresence returns the online flag and last-seen view for one user.
// Returns domain.ErrNotFound for a user that was never seen.
func (uc *StatsUseCase) UserPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	return uc.presence.Snapshot(ctx, userID)
}
