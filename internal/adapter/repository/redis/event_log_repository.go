package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/reader-relay/internal/domain"
)

const eventLogPrefix = "relay:events:"

// EventLogRepository implements domain.EventLog as per-user, per-session
// capped Redis lists with a retention TTL.
type EventLogRepository struct {
	client     *redis.Client
	logger     *slog.Logger
	perSession int64
	retention  time.Duration
}

// NewEventLogRepository creates a Redis-backed event log.
func NewEventLogRepository(client *redis.Client, logger *slog.Logger, perSession int64, retention time.Duration) *EventLogRepository {
	return &EventLogRepository{
		client:     client,
		logger:     logger.With("component", "event_log_repository"),
		perSession: perSession,
		retention:  retention,
	}
}

func eventLogKey(userID, sessionID string) string {
	return fmt.Sprintf("%s%s:%s", eventLogPrefix, userID, sessionID)
}

// Append records the event in its session's log, trimming to the per-session
// cap and refreshing the retention TTL.
func (r *EventLogRepository) Append(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for log: %w", err)
	}

	key := eventLogKey(event.UserID, event.SessionID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, r.perSession-1)
	pipe.Expire(ctx, key, r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event %s to log: %w", event.ID, err)
	}
	return nil
}

// RecentEvents merges the user's session logs and returns up to limit
// events, newest first.
func (r *EventLogRepository) RecentEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	pattern := eventLogPrefix + userID + ":*"

	var events []domain.Event
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raws, err := r.client.LRange(ctx, iter.Val(), 0, r.perSession-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read event log %s: %w", iter.Val(), err)
		}
		for _, raw := range raws {
			var event domain.Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				r.logger.Warn("skipping malformed event log entry", "key", iter.Val(), "error", err)
				continue
			}
			events = append(events, event)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event logs for user %s: %w", userID, err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
