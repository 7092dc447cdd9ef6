package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/reader-relay/internal/domain"
)

const (
	queueKey      = "relay:queue"
	deadLetterKey = "relay:dead_letters"
)

// enqueueScript checks capacity and inserts in one server-side operation, so
// concurrent handlers cannot race the capacity check across suspension points.
var enqueueScript = redis.NewScript(`
local depth = redis.call('ZCARD', KEYS[1])
if depth >= tonumber(ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// popEligibleScript atomically removes and returns the earliest member whose
// eligible-at score has passed.
var popEligibleScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
	return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// QueueRepository implements domain.EventQueue on a single Redis sorted set,
// scored by eligible-at timestamp. A local WAL absorbs writes while Redis is
// unavailable.
type QueueRepository struct {
	client        *redis.Client
	logger        *slog.Logger
	capacity      int
	deadLetterMax int64
	deadLetterTTL time.Duration
	wal           domain.WALRepository
	isAvailable   atomic.Bool
}

// NewQueueRepository creates a Redis-backed event queue. The WAL is optional;
// pass nil to disable the failover path.
func NewQueueRepository(client *redis.Client, logger *slog.Logger, capacity int, deadLetterMax int64, deadLetterTTL time.Duration, wal domain.WALRepository) *QueueRepository {
	repo := &QueueRepository{
		client:        client,
		logger:        logger.With("component", "queue_repository"),
		capacity:      capacity,
		deadLetterMax: deadLetterMax,
		deadLetterTTL: deadLetterTTL,
		wal:           wal,
	}
	repo.isAvailable.Store(true)
	return repo
}

// StartHealthCheck monitors Redis connectivity and replays the WAL into the
// queue once the connection recovers.
func (r *QueueRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("starting Redis health check and WAL replayer")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping Redis health check")
			return
		case <-ticker.C:
			if err := r.client.Ping(ctx).Err(); err != nil {
				if r.isAvailable.CompareAndSwap(true, false) {
					r.logger.Error("Redis connection lost", "error", err)
				}
				continue
			}
			if r.isAvailable.CompareAndSwap(false, true) {
				r.logger.Info("Redis connection recovered")
				if err := r.replayWAL(ctx); err != nil {
					r.logger.Error("failed to replay WAL after Redis recovery", "error", err)
					r.isAvailable.Store(false)
				}
			}
		}
	}
}

func (r *QueueRepository) replayWAL(ctx context.Context) error {
	replay := func(item domain.QueuedEvent) error {
		return r.enqueueToRedis(ctx, item, item.EnqueuedAt)
	}
	if err := r.wal.Replay(ctx, replay); err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := r.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after successful replay: %w", err)
	}
	r.logger.Info("WAL replay to Redis completed")
	return nil
}

// Enqueue inserts a pending item, falling back to the WAL if Redis is
// unavailable. Returns domain.ErrQueueFull when the queue is at capacity.
func (r *QueueRepository) Enqueue(ctx context.Context, item domain.QueuedEvent) error {
	if !r.isAvailable.Load() {
		if r.wal == nil {
			return errors.New("redis is unavailable and WAL is not configured")
		}
		r.logger.Warn("Redis is unavailable, writing to WAL", "event_id", item.Event.ID)
		return r.wal.Write(ctx, item)
	}

	err := r.enqueueChecked(ctx, item, item.EnqueuedAt)
	if err != nil && isNetworkError(err) {
		if r.isAvailable.CompareAndSwap(true, false) {
			r.logger.Error("Redis connection lost during enqueue", "error", err)
		}
		if r.wal == nil {
			return fmt.Errorf("redis became unavailable and WAL is not configured: %w", err)
		}
		r.logger.Warn("Redis became unavailable, writing to WAL", "event_id", item.Event.ID)
		return r.wal.Write(ctx, item)
	}
	return err
}

func (r *QueueRepository) enqueueChecked(ctx context.Context, item domain.QueuedEvent, eligibleAt time.Time) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued event: %w", err)
	}

	accepted, err := enqueueScript.Run(ctx, r.client, []string{queueKey},
		r.capacity, eligibleAt.UnixMilli(), payload).Int()
	if err != nil {
		return fmt.Errorf("failed to run enqueue script: %w", err)
	}
	if accepted == 0 {
		return domain.ErrQueueFull
	}
	return nil
}

// enqueueToRedis inserts without the capacity check. Used for retries and WAL
// replay, where dropping an already-owned event would lose data.
func (r *QueueRepository) enqueueToRedis(ctx context.Context, item domain.QueuedEvent, eligibleAt time.Time) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued event: %w", err)
	}
	member := redis.Z{Score: float64(eligibleAt.UnixMilli()), Member: payload}
	if err := r.client.ZAdd(ctx, queueKey, member).Err(); err != nil {
		return fmt.Errorf("failed to ZADD to queue: %w", err)
	}
	return nil
}

// PopEligible removes and returns the earliest item scored at or before now.
// A nil item means no eligible work.
func (r *QueueRepository) PopEligible(ctx context.Context, now time.Time) (*domain.QueuedEvent, error) {
	raw, err := popEligibleScript.Run(ctx, r.client, []string{queueKey}, now.UnixMilli()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to run pop script: %w", err)
	}

	var item domain.QueuedEvent
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queued event: %w", err)
	}
	return &item, nil
}

// Requeue re-inserts a retried item scored at eligibleAt.
func (r *QueueRepository) Requeue(ctx context.Context, item domain.QueuedEvent, eligibleAt time.Time) error {
	return r.enqueueToRedis(ctx, item, eligibleAt)
}

// PushDeadLetter stores an entry in the dead-letter sorted set, scored by its
// failure time. Each push prunes entries older than the retention window and
// trims to the size cap, so retention holds per entry; the key-level TTL only
// reaps a sink that has been idle for the whole window.
func (r *QueueRepository) PushDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error {
	failedAt := entry.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	cutoff := failedAt.Add(-r.deadLetterTTL).UnixMilli()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, deadLetterKey, redis.Z{Score: float64(failedAt.UnixMilli()), Member: payload})
	pipe.ZRemRangeByScore(ctx, deadLetterKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZRemRangeByRank(ctx, deadLetterKey, 0, -(r.deadLetterMax + 1))
	pipe.Expire(ctx, deadLetterKey, r.deadLetterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead-letter entry: %w", err)
	}

	r.logger.Warn("event dead-lettered",
		"event_id", entry.Item.Event.ID,
		"event_type", entry.Item.Event.Type,
		"user_id", entry.Item.Event.UserID,
		"retry_count", entry.Item.RetryCount,
		"reason", entry.Reason,
	)
	return nil
}

// Depth returns the number of pending items in the primary queue.
func (r *QueueRepository) Depth(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, queueKey).Result()
}

// DeadLetterDepth returns the number of entries in the dead-letter sink.
func (r *QueueRepository) DeadLetterDepth(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, deadLetterKey).Result()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
