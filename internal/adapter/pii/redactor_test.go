package pii

import (
	"io"
	"log/slog"
	"testing"

	"github.com/user/reader-relay/internal/domain"
)

func TestRedactor_Redact(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name            string
		fields          []string
		payload         string
		expectedPayload string
		expectRedacted  bool
		expectErr       bool
	}{
		{
			name:            "Redacts configured field",
			fields:          []string{"email"},
			payload:         `{"email":"reader@example.com","page":12}`,
			expectedPayload: `{"email":"[REDACTED]","page":12}`,
			expectRedacted:  true,
		},
		{
			name:            "No configured fields present",
			fields:          []string{"ssn"},
			payload:         `{"page":12}`,
			expectedPayload: `{"page":12}`,
			expectRedacted:  false,
		},
		{
			name:      "Malformed payload",
			fields:    []string{"email"},
			payload:   `{"email":`,
			expectErr: true,
		},
		{
			name:            "Empty payload",
			fields:          []string{"email"},
			payload:         "",
			expectedPayload: "",
			expectRedacted:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redactor := NewRedactor(tt.fields, logger)
			event := &domain.Event{ID: "ev-1", Payload: []byte(tt.payload)}

			err := redactor.Redact(event)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if event.PIIRedacted != tt.expectRedacted {
				t.Errorf("PIIRedacted = %v, want %v", event.PIIRedacted, tt.expectRedacted)
			}
			if string(event.Payload) != tt.expectedPayload {
				t.Errorf("payload = %s, want %s", event.Payload, tt.expectedPayload)
			}
		})
	}
}
