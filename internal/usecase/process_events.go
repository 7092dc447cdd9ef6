package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/user/reader-relay/internal/adapter/metrics"
	"github.com/user/reader-relay/internal/domain"
)

// EventHandler processes one dequeued event. Failures feed the
// retry/dead-letter path and are never surfaced to the emitting client.
type EventHandler func(ctx context.Context, event domain.Event) error

// detachedWriteTimeout bounds the queue writes that must outlive a cancelled
// drain context: requeue, dead-letter and the depth gauge reads.
const detachedWriteTimeout = 5 * time.Second

// ProcessEventsUseCase drains the event queue, invoking a handler per event
// with bounded retries and dead-lettering on exhaustion.
type ProcessEventsUseCase struct {
	queue          domain.EventQueue
	logger         *slog.Logger
	metrics        *metrics.RelayMetrics
	maxRetries     int
	baseDelay      time.Duration
	handlerTimeout time.Duration
	draining       atomic.Bool
}

// NewProcessEventsUseCase creates a new drain use case.
func NewProcessEventsUseCase(queue domain.EventQueue, logger *slog.Logger, m *metrics.RelayMetrics, maxRetries int, baseDelay, handlerTimeout time.Duration) *ProcessEventsUseCase {
	return &ProcessEventsUseCase{
		queue:          queue,
		logger:         logger,
		metrics:        m,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		handlerTimeout: handlerTimeout,
	}
}

// DrainActive reports whether a drain cycle is currently running.
func (uc *ProcessEventsUseCase) DrainActive() bool {
	return uc.draining.Load()
}

// ProcessEvents runs one drain cycle: pop eligible items until none remain,
// invoking the handler per event. A cycle started while another is active is
// a no-op; the periodic driver catches up on the next tick. Returns the
// number of successfully processed events.
func (uc *ProcessEventsUseCase) ProcessEvents(ctx context.Context, handle EventHandler) (int, error) {
	if !uc.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer uc.draining.Store(false)

	if uc.metrics != nil {
		uc.metrics.DrainActive.Set(1)
		defer uc.metrics.DrainActive.Set(0)
	}
	defer uc.refreshDepthGauges(context.WithoutCancel(ctx))

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		item, err := uc.queue.PopEligible(ctx, time.Now().UTC())
		if err != nil {
			uc.logger.Error("failed to pop from queue", "error", err)
			return processed, err
		}
		if item == nil {
			// Empty queue ends the cycle; this is the normal terminal state.
			return processed, nil
		}

		if err := uc.invoke(ctx, handle, item.Event); err != nil {
			uc.retryOrDeadLetter(ctx, *item, err)
			continue
		}

		processed++
		if uc.metrics != nil {
			uc.metrics.EventsProcessed.WithLabelValues("processed").Inc()
		}
	}
}

// invoke runs the handler under a timeout so a hung downstream call becomes
// a processing error instead of stalling the whole drain cycle. The handler
// context is detached from the drain context: once an event is popped it is
// off the durable queue, so shutdown lets its handler finish instead of
// aborting it mid-flight. The loop stops popping new work on the next
// iteration.
func (uc *ProcessEventsUseCase) invoke(ctx context.Context, handle EventHandler, event domain.Event) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.handlerTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- handle(hctx, event)
	}()

	select {
	case err := <-errCh:
		return err
	case <-hctx.Done():
		return fmt.Errorf("handler timed out after %s: %w", uc.handlerTimeout, hctx.Err())
	}
}

// retryOrDeadLetter re-enqueues a failed item with linear backoff, or moves
// it to the dead-letter sink once retries are exhausted. A dead-lettered
// event never re-enters the primary queue.
func (uc *ProcessEventsUseCase) retryOrDeadLetter(ctx context.Context, item domain.QueuedEvent, cause error) {
	now := time.Now().UTC()

	// The item is already off the primary queue. These writes must survive a
	// cancelled drain context or the event is lost from both sinks.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancel()

	if item.RetryCount >= uc.maxRetries {
		entry := domain.DeadLetterEntry{
			Item:     item,
			Reason:   cause.Error(),
			FailedAt: now,
		}
		if err := uc.queue.PushDeadLetter(wctx, entry); err != nil {
			uc.logger.Error("failed to push dead-letter entry", "error", err, "event_id", item.Event.ID)
			return
		}
		if uc.metrics != nil {
			uc.metrics.EventsProcessed.WithLabelValues("dead_lettered").Inc()
		}
		return
	}

	item.RetryCount++
	item.LastError = cause.Error()
	delay := time.Duration(item.RetryCount) * uc.baseDelay
	eligibleAt := now.Add(delay)

	if err := uc.queue.Requeue(wctx, item, eligibleAt); err != nil {
		uc.logger.Error("failed to requeue event", "error", err, "event_id", item.Event.ID)
		return
	}

	uc.logger.Warn("event processing failed, scheduled retry",
		"event_id", item.Event.ID,
		"event_type", item.Event.Type,
		"user_id", item.Event.UserID,
		"retry_count", item.RetryCount,
		"retry_in", delay,
		"error", cause,
	)
	if uc.metrics != nil {
		uc.metrics.EventsProcessed.WithLabelValues("retried").Inc()
	}
}

// refreshDepthGauges publishes the queue depths after a cycle so the exported
// gauges track the store instead of sitting at zero.
func (uc *ProcessEventsUseCase) refreshDepthGauges(ctx context.Context) {
	if uc.metrics == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, detachedWriteTimeout)
	defer cancel()

	if depth, err := uc.queue.Depth(rctx); err == nil {
		uc.metrics.QueueDepth.Set(float64(depth))
	} else {
		uc.logger.Warn("failed to read queue depth for metrics", "error", err)
	}
	if dlqDepth, err := uc.queue.DeadLetterDepth(rctx); err == nil {
		uc.metrics.DeadLetterDepth.Set(float64(dlqDepth))
	} else {
		uc.logger.Warn("failed to read dead-letter depth for metrics", "error", err)
	}
}
