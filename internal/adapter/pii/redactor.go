package pii

import (
	"encoding/json"
	"log/slog"

	"github.com/user/reader-relay/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor strips sensitive fields from event payloads before they enter the
// queue. Reader payloads are caller-supplied, so anything can show up here.
type Redactor struct {
	fieldsToRedact map[string]struct{}
	logger         *slog.Logger
}

// NewRedactor creates a new Redactor for the given set of payload fields.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		fieldSet[field] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger,
	}
}

// Redact modifies the Event in place, replacing configured payload fields
// with a placeholder. It returns an error if JSON processing fails; callers
// treat that as non-fatal.
func (r *Redactor) Redact(event *domain.Event) error {
	if len(r.fieldsToRedact) == 0 || len(event.Payload) == 0 {
		return nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		r.logger.Warn("failed to unmarshal payload for PII redaction", "error", err, "event_id", event.ID)
		return err
	}

	redacted := false
	for field := range r.fieldsToRedact {
		if _, ok := payload[field]; ok {
			payload[field] = RedactedPlaceholder
			redacted = true
		}
	}

	if redacted {
		modified, err := json.Marshal(payload)
		if err != nil {
			r.logger.Error("failed to marshal payload after PII redaction", "error", err, "event_id", event.ID)
			return err
		}
		event.Payload = modified
		event.PIIRedacted = true
	}

	return nil
}
