package domain

import (
	"encoding/json"
	"time"
)

// EventType is the domain tag of a reader interaction event.
type EventType string

const (
	EventPageSync           EventType = "page-sync"
	EventHelpRequest        EventType = "help-request"
	EventFeedbackSubmission EventType = "feedback-submission"
	EventSessionStart       EventType = "session-start"
	EventSessionEnd         EventType = "session-end"
)

// Event is the canonical unit of work flowing through the pipeline.
// ID is assigned once at enqueue time; Timestamp is assigned at creation,
// not at processing.
type Event struct {
	ID          string          `json:"event_id"`
	UserID      string          `json:"user_id"`
	SessionID   string          `json:"session_id"`
	Type        EventType       `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	PIIRedacted bool            `json:"pii_redacted,omitempty"`
}

// QueuedEvent wraps an Event with the transport metadata the queue owns
// while the event is pending. RetryCount only ever increases.
type QueuedEvent struct {
	Event      Event     `json:"event"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// DeadLetterEntry records an event that exhausted its retries. Entries are
// never replayed automatically and expire with the sink's TTL.
type DeadLetterEntry struct {
	Item     QueuedEvent `json:"item"`
	Reason   string      `json:"reason"`
	FailedAt time.Time   `json:"failed_at"`
}
