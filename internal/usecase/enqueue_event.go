package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/user/reader-relay/internal/adapter/metrics"
	"github.com/user/reader-relay/internal/adapter/pii"
	"github.com/user/reader-relay/internal/domain"
)

// EnqueueEventUseCase accepts a domain event from a session, assigns its
// identity and enqueues it for asynchronous processing.
type EnqueueEventUseCase struct {
	queue    domain.EventQueue
	redactor *pii.Redactor
	logger   *slog.Logger
	metrics  *metrics.RelayMetrics
}

// NewEnqueueEventUseCase creates a new EnqueueEventUseCase.
func NewEnqueueEventUseCase(queue domain.EventQueue, redactor *pii.Redactor, logger *slog.Logger, m *metrics.RelayMetrics) *EnqueueEventUseCase {
	return &EnqueueEventUseCase{
		queue:    queue,
		redactor: redactor,
		logger:   logger,
		metrics:  m,
	}
}

// Enqueue assigns the event id, scrubs PII and inserts the event into the
// queue with retry count zero. The id is assigned exactly once, here; the
// creation timestamp set by the caller is preserved.
func (uc *EnqueueEventUseCase) Enqueue(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := uc.redactor.Redact(event); err != nil {
		// Non-fatal: the event is still accepted with its original payload.
		uc.logger.Warn("failed to redact PII, proceeding with original payload", "error", err, "event_id", event.ID)
	}

	item := domain.QueuedEvent{
		Event:      *event,
		RetryCount: 0,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := uc.queue.Enqueue(ctx, item); err != nil {
		uc.logger.Error("failed to enqueue event", "error", err, "event_id", event.ID, "event_type", event.Type)
		return err
	}

	if uc.metrics != nil {
		uc.metrics.EventsEnqueued.WithLabelValues(string(event.Type)).Inc()
	}
	return nil
}
