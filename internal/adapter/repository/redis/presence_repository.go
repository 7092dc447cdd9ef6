package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/reader-relay/internal/domain"
)

const (
	onlineSetKey = "relay:presence:online"
	lastSeenKey  = "relay:presence:last_seen"
)

// PresenceRepository implements domain.PresenceRepository on a Redis set plus
// a last-seen hash. The view is best-effort: a crash that skips the
// disconnect hook leaves a stale online entry, there is no expiry here.
type PresenceRepository struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPresenceRepository creates a Redis-backed presence tracker.
func NewPresenceRepository(client *redis.Client, logger *slog.Logger) *PresenceRepository {
	return &PresenceRepository{
		client: client,
		logger: logger.With("component", "presence_repository"),
	}
}

// SetOnline adds or removes the user from the online set and stamps
// last-seen in the same transaction.
func (r *PresenceRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	pipe := r.client.TxPipeline()
	if online {
		pipe.SAdd(ctx, onlineSetKey, userID)
	} else {
		pipe.SRem(ctx, onlineSetKey, userID)
	}
	pipe.HSet(ctx, lastSeenKey, userID, time.Now().UTC().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence for user %s: %w", userID, err)
	}
	return nil
}

// Touch refreshes the user's last-seen timestamp.
func (r *PresenceRepository) Touch(ctx context.Context, userID string) error {
	if err := r.client.HSet(ctx, lastSeenKey, userID, time.Now().UTC().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to touch last-seen for user %s: %w", userID, err)
	}
	return nil
}

// OnlineUsers returns the current online set, unordered.
func (r *PresenceRepository) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := r.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read online set: %w", err)
	}
	return users, nil
}

// LastSeen returns the last recorded timestamp for the user, or
// domain.ErrNotFound if the user was never seen.
func (r *PresenceRepository) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, err := r.client.HGet(ctx, lastSeenKey, userID).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to read last-seen for user %s: %w", userID, err)
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed last-seen value for user %s: %w", userID, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// Snapshot combines the online flag and last-seen timestamp for a user.
func (r *PresenceRepository) Snapshot(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	lastSeen, err := r.LastSeen(ctx, userID)
	if err != nil {
		return nil, err
	}

	online, err := r.client.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check online set for user %s: %w", userID, err)
	}

	return &domain.PresenceRecord{
		UserID:   userID,
		Online:   online,
		LastSeen: lastSeen,
	}, nil
}
