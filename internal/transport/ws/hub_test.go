package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/domain/mocks"
)

// fakeTransport records delivered frames and can be told to fail.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, msg)
	return nil
}

func (f *fakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(userID string, role domain.Role) domain.Session {
	return domain.Session{
		ID: uuid.New(),
		Identity: domain.Identity{
			UserID: userID,
			Email:  userID + "@example.com",
			Role:   role,
		},
		ConnectedAt: time.Now().UTC(),
	}
}

func TestHub_ConnectAndDisconnectUpdatesPresence(t *testing.T) {
	presence := &mocks.MockPresenceRepository{}
	hub := NewHub(presence, discardLogger(), nil)
	ctx := context.Background()

	session := newTestSession("reader-1", domain.RoleReader)
	hub.HandleConnect(ctx, session, &fakeTransport{})

	online, _ := presence.OnlineUsers(ctx)
	if len(online) != 1 || online[0] != "reader-1" {
		t.Fatalf("expected reader-1 online, got %v", online)
	}

	hub.HandleDisconnect(ctx, session.ID)

	online, _ = presence.OnlineUsers(ctx)
	if len(online) != 0 {
		t.Fatalf("expected no users online after disconnect, got %v", online)
	}
}

func TestHub_UserStaysOnlineWhileAnotherSessionRemains(t *testing.T) {
	presence := &mocks.MockPresenceRepository{}
	hub := NewHub(presence, discardLogger(), nil)
	ctx := context.Background()

	first := newTestSession("reader-1", domain.RoleReader)
	second := newTestSession("reader-1", domain.RoleReader)
	hub.HandleConnect(ctx, first, &fakeTransport{})
	hub.HandleConnect(ctx, second, &fakeTransport{})

	hub.HandleDisconnect(ctx, first.ID)

	online, _ := presence.OnlineUsers(ctx)
	if len(online) != 1 {
		t.Fatalf("expected reader-1 still online with a second session, got %v", online)
	}

	hub.HandleDisconnect(ctx, second.ID)
	online, _ = presence.OnlineUsers(ctx)
	if len(online) != 0 {
		t.Fatalf("expected reader-1 offline after last session left, got %v", online)
	}
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	session := newTestSession("consultant-1", domain.RoleConsultant)
	transport := &fakeTransport{}
	hub.HandleConnect(ctx, session, transport)

	if err := hub.Join(session.ID, RoomConsultants); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if err := hub.Join(session.ID, RoomConsultants); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if !hub.InRoom(session.ID, RoomConsultants) {
		t.Fatal("expected session in consultants room")
	}

	event := domain.Event{ID: uuid.NewString(), Type: domain.EventPageSync, UserID: "reader-1"}
	hub.BroadcastEvent(event)

	// A double join must not produce a duplicate delivery.
	if got := transport.frameCount(); got != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", got)
	}
}

func TestHub_JoinUnknownSession(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)

	if err := hub.Join(uuid.New(), "some-room"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHub_LeaveNeverJoinedRoomIsNoOp(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	session := newTestSession("consultant-1", domain.RoleConsultant)
	hub.HandleConnect(ctx, session, &fakeTransport{})

	if err := hub.Leave(session.ID, "never-joined"); err != nil {
		t.Fatalf("expected no-op leave, got %v", err)
	}
}

func TestHub_BroadcastReachesTypeRoomAndConsultants(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	subscribed := newTestSession("consultant-1", domain.RoleConsultant)
	subscribedTransport := &fakeTransport{}
	hub.HandleConnect(ctx, subscribed, subscribedTransport)
	if err := hub.Join(subscribed.ID, RoomConsultants); err != nil {
		t.Fatalf("join consultants: %v", err)
	}
	if err := hub.Join(subscribed.ID, EventRoom(domain.EventPageSync)); err != nil {
		t.Fatalf("join event room: %v", err)
	}

	typeOnly := newTestSession("consultant-2", domain.RoleConsultant)
	typeOnlyTransport := &fakeTransport{}
	hub.HandleConnect(ctx, typeOnly, typeOnlyTransport)
	if err := hub.Join(typeOnly.ID, EventRoom(domain.EventHelpRequest)); err != nil {
		t.Fatalf("join event room: %v", err)
	}

	outsider := newTestSession("reader-1", domain.RoleReader)
	outsiderTransport := &fakeTransport{}
	hub.HandleConnect(ctx, outsider, outsiderTransport)

	event := domain.Event{ID: uuid.NewString(), Type: domain.EventPageSync, UserID: "reader-1"}
	hub.BroadcastEvent(event)

	if got := subscribedTransport.frameCount(); got != 1 {
		t.Fatalf("expected 1 delivery to subscribed consultant, got %d", got)
	}
	if got := typeOnlyTransport.frameCount(); got != 0 {
		t.Fatalf("expected no delivery to a different type room, got %d", got)
	}
	if got := outsiderTransport.frameCount(); got != 0 {
		t.Fatalf("expected no delivery to unsubscribed session, got %d", got)
	}

	var envelope Envelope
	if err := json.Unmarshal(subscribedTransport.lastFrame(), &envelope); err != nil {
		t.Fatalf("broadcast frame is not a valid envelope: %v", err)
	}
	if envelope.Event != MsgReaderEvent {
		t.Fatalf("expected %q frame, got %q", MsgReaderEvent, envelope.Event)
	}
	var delivered domain.Event
	if err := json.Unmarshal(envelope.Data, &delivered); err != nil {
		t.Fatalf("broadcast data is not an event: %v", err)
	}
	if delivered.ID != event.ID {
		t.Fatalf("expected event %s, got %s", event.ID, delivered.ID)
	}
}

func TestHub_BroadcastFailureDoesNotStopFanOut(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	broken := newTestSession("consultant-1", domain.RoleConsultant)
	brokenTransport := &fakeTransport{sendErr: errors.New("send buffer full")}
	hub.HandleConnect(ctx, broken, brokenTransport)
	if err := hub.Join(broken.ID, RoomConsultants); err != nil {
		t.Fatalf("join: %v", err)
	}

	healthy := newTestSession("consultant-2", domain.RoleConsultant)
	healthyTransport := &fakeTransport{}
	hub.HandleConnect(ctx, healthy, healthyTransport)
	if err := hub.Join(healthy.ID, RoomConsultants); err != nil {
		t.Fatalf("join: %v", err)
	}

	hub.BroadcastEvent(domain.Event{ID: uuid.NewString(), Type: domain.EventPageSync})

	if got := healthyTransport.frameCount(); got != 1 {
		t.Fatalf("expected healthy session to receive the event, got %d deliveries", got)
	}
}

func TestHub_DisconnectRemovesRoomMembership(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	session := newTestSession("consultant-1", domain.RoleConsultant)
	transport := &fakeTransport{}
	hub.HandleConnect(ctx, session, transport)
	if err := hub.Join(session.ID, RoomConsultants); err != nil {
		t.Fatalf("join: %v", err)
	}

	hub.HandleDisconnect(ctx, session.ID)

	hub.BroadcastEvent(domain.Event{ID: uuid.NewString(), Type: domain.EventPageSync})
	if got := transport.frameCount(); got != 0 {
		t.Fatalf("expected no delivery after disconnect, got %d", got)
	}
	if hub.InRoom(session.ID, RoomConsultants) {
		t.Fatal("expected room membership cleared on disconnect")
	}
}

func TestHub_CloseAllClosesEveryTransport(t *testing.T) {
	hub := NewHub(&mocks.MockPresenceRepository{}, discardLogger(), nil)
	ctx := context.Background()

	first := &fakeTransport{}
	second := &fakeTransport{}
	hub.HandleConnect(ctx, newTestSession("a", domain.RoleReader), first)
	hub.HandleConnect(ctx, newTestSession("b", domain.RoleConsultant), second)

	hub.CloseAll(errors.New("shutting down"))

	if !first.closed || !second.closed {
		t.Fatal("expected every transport closed")
	}
}
