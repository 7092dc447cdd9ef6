package ws

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/user/reader-relay/internal/adapter/metrics"
	"github.com/user/reader-relay/internal/domain"
)

// RoomConsultants receives every accepted event regardless of type.
const RoomConsultants = "consultants"

const eventRoomPrefix = "event:"

// EventRoom composes the per-type room name for an event type.
func EventRoom(t domain.EventType) string {
	return eventRoomPrefix + string(t)
}

// reservedRoom reports whether joining the room requires the consultant role.
func reservedRoom(room string) bool {
	return room == RoomConsultants || strings.HasPrefix(room, eventRoomPrefix)
}

type hubMember struct {
	session   domain.Session
	transport Transport
	rooms     map[string]struct{}
}

// Hub owns room membership and fans accepted events out to subscribed
// sessions. Sessions are registered on connect and fully forgotten on
// disconnect; membership changes only through Join and Leave.
type Hub struct {
	logger   *slog.Logger
	metrics  *metrics.RelayMetrics
	presence domain.PresenceRepository

	mu      sync.RWMutex
	members map[uuid.UUID]*hubMember
	rooms   map[string]map[uuid.UUID]*hubMember
}

// NewHub creates an empty hub.
func NewHub(presence domain.PresenceRepository, logger *slog.Logger, m *metrics.RelayMetrics) *Hub {
	return &Hub{
		logger:   logger.With("component", "hub"),
		metrics:  m,
		presence: presence,
		members:  make(map[uuid.UUID]*hubMember),
		rooms:    make(map[string]map[uuid.UUID]*hubMember),
	}
}

// HandleConnect registers a session and marks its user online. It does not
// join any rooms; membership is explicit.
func (h *Hub) HandleConnect(ctx context.Context, session domain.Session, transport Transport) {
	h.mu.Lock()
	h.members[session.ID] = &hubMember{
		session:   session,
		transport: transport,
		rooms:     make(map[string]struct{}),
	}
	open := len(h.members)
	h.mu.Unlock()

	if err := h.presence.SetOnline(ctx, session.Identity.UserID, true); err != nil {
		h.logger.Error("failed to mark user online", "error", err, "user_id", session.Identity.UserID)
	}
	if h.metrics != nil {
		h.metrics.OpenSessions.Set(float64(open))
	}
	h.logger.Info("session connected",
		"session_id", session.ID,
		"user_id", session.Identity.UserID,
		"role", session.Identity.Role,
	)
}

// HandleDisconnect removes the session from every room it joined and updates
// presence. The user only goes offline when no other session of theirs
// remains connected.
func (h *Hub) HandleDisconnect(ctx context.Context, sessionID uuid.UUID) {
	h.mu.Lock()
	member, ok := h.members[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.members, sessionID)
	for room := range member.rooms {
		h.removeFromRoomLocked(sessionID, room)
	}
	userID := member.session.Identity.UserID
	stillConnected := false
	for _, other := range h.members {
		if other.session.Identity.UserID == userID {
			stillConnected = true
			break
		}
	}
	open := len(h.members)
	h.mu.Unlock()

	if stillConnected {
		if err := h.presence.Touch(ctx, userID); err != nil {
			h.logger.Error("failed to touch last-seen", "error", err, "user_id", userID)
		}
	} else if err := h.presence.SetOnline(ctx, userID, false); err != nil {
		h.logger.Error("failed to mark user offline", "error", err, "user_id", userID)
	}
	if h.metrics != nil {
		h.metrics.OpenSessions.Set(float64(open))
	}
	h.logger.Info("session disconnected", "session_id", sessionID, "user_id", userID)
}

// Join adds the session to a room. Joining a room twice is a no-op.
func (h *Hub) Join(sessionID uuid.UUID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	member, ok := h.members[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	member.rooms[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[uuid.UUID]*hubMember)
	}
	h.rooms[room][sessionID] = member
	return nil
}

// Leave removes the session from a room. Leaving a room that was never
// joined is a no-op.
func (h *Hub) Leave(sessionID uuid.UUID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	member, ok := h.members[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	delete(member.rooms, room)
	h.removeFromRoomLocked(sessionID, room)
	return nil
}

func (h *Hub) removeFromRoomLocked(sessionID uuid.UUID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether the session is currently joined to the room.
func (h *Hub) InRoom(sessionID uuid.UUID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, joined := members[sessionID]
	return joined
}

// BroadcastEvent delivers the event to every session joined to the event's
// type room and to the consultants room. A failed delivery to one recipient
// is logged and never aborts the rest of the fan-out.
func (h *Hub) BroadcastEvent(event domain.Event) {
	frame, err := NewEnvelope(MsgReaderEvent, event)
	if err != nil {
		h.logger.Error("failed to marshal broadcast frame", "error", err, "event_id", event.ID)
		return
	}

	h.mu.RLock()
	recipients := make(map[uuid.UUID]*hubMember)
	for id, member := range h.rooms[EventRoom(event.Type)] {
		recipients[id] = member
	}
	for id, member := range h.rooms[RoomConsultants] {
		recipients[id] = member
	}
	h.mu.RUnlock()

	for id, member := range recipients {
		if err := member.transport.Send(frame); err != nil {
			h.logger.Warn("broadcast delivery failed",
				"error", err,
				"session_id", id,
				"event_id", event.ID,
				"event_type", event.Type,
			)
			if h.metrics != nil {
				h.metrics.Broadcasts.WithLabelValues("failed").Inc()
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.Broadcasts.WithLabelValues("delivered").Inc()
		}
	}
}

// CloseAll terminates every registered connection, used during shutdown.
func (h *Hub) CloseAll(err error) {
	h.mu.RLock()
	transports := make([]Transport, 0, len(h.members))
	for _, member := range h.members {
		transports = append(transports, member.transport)
	}
	h.mu.RUnlock()

	for _, t := range transports {
		t.Close(err)
	}
}
