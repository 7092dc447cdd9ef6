package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/domain/mocks"
	"github.com/user/reader-relay/internal/usecase"
)

func newStatsHandler(queue *mocks.MockEventQueue, presence *mocks.MockPresenceRepository, sink *mocks.MockEventSink) *StatsHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	drain := usecase.NewProcessEventsUseCase(queue, logger, nil, 3, time.Second, time.Second)
	uc := usecase.NewStatsUseCase(queue, presence, sink, drain)
	return NewStatsHandler(uc, logger)
}

func TestStatsHandler_HealthCheck(t *testing.T) {
	h := newStatsHandler(&mocks.MockEventQueue{}, &mocks.MockPresenceRepository{}, &mocks.MockEventSink{})

	r := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %q", body["status"])
	}
}

func TestStatsHandler_GetStats(t *testing.T) {
	queue := &mocks.MockEventQueue{}
	presence := &mocks.MockPresenceRepository{}
	sink := &mocks.MockEventSink{}
	ctx := context.Background()

	queue.Enqueue(ctx, domain.QueuedEvent{Event: domain.Event{ID: "evt-1", UserID: "reader-1", Type: domain.EventPageSync}})
	queue.Enqueue(ctx, domain.QueuedEvent{Event: domain.Event{ID: "evt-2", UserID: "reader-1", Type: domain.EventPageSync}})
	presence.SetOnline(ctx, "reader-1", true)
	sink.Store(ctx, domain.Event{ID: "evt-0", UserID: "reader-1", Type: domain.EventHelpRequest})

	h := newStatsHandler(queue, presence, sink)

	r := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	h.GetStats(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats usecase.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("bad stats body: %v", err)
	}
	if stats.QueueDepth != 2 {
		t.Fatalf("expected queue depth 2, got %d", stats.QueueDepth)
	}
	if stats.OnlineUsers != 1 {
		t.Fatalf("expected 1 online user, got %d", stats.OnlineUsers)
	}
	if stats.Aggregates == nil || stats.Aggregates.TotalEvents != 1 {
		t.Fatalf("expected sink aggregates with 1 event, got %+v", stats.Aggregates)
	}
}

func TestStatsHandler_GetUserPresence(t *testing.T) {
	presence := &mocks.MockPresenceRepository{}
	presence.SetOnline(context.Background(), "reader-1", true)
	h := newStatsHandler(&mocks.MockEventQueue{}, presence, &mocks.MockEventSink{})

	r := httptest.NewRequest("GET", "/presence/reader-1", nil)
	r.SetPathValue("userID", "reader-1")
	w := httptest.NewRecorder()
	h.GetUserPresence(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var record domain.PresenceRecord
	if err := json.Unmarshal(w.Body.Bytes(), &record); err != nil {
		t.Fatalf("bad presence body: %v", err)
	}
	if !record.Online || record.UserID != "reader-1" || record.LastSeen.IsZero() {
		t.Fatalf("unexpected presence record: %+v", record)
	}
}

func TestStatsHandler_GetUserPresenceUnknownUser(t *testing.T) {
	h := newStatsHandler(&mocks.MockEventQueue{}, &mocks.MockPresenceRepository{}, &mocks.MockEventSink{})

	r := httptest.NewRequest("GET", "/presence/ghost", nil)
	r.SetPathValue("userID", "ghost")
	w := httptest.NewRecorder()
	h.GetUserPresence(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for never-seen user, got %d", w.Code)
	}
}

func TestStatsHandler_GetStatsBackendFailure(t *testing.T) {
	sink := &mocks.MockEventSink{StatsErr: context.DeadlineExceeded}
	h := newStatsHandler(&mocks.MockEventQueue{}, &mocks.MockPresenceRepository{}, sink)

	r := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	h.GetStats(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on backend failure, got %d", w.Code)
	}
}
