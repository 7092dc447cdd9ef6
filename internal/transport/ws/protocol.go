package ws

import (
	"encoding/json"

	"github.com/user/reader-relay/internal/domain"
)

// Client-to-server event names.
const (
	MsgSubscribeConsultant   = "subscribe-consultant"
	MsgUnsubscribeConsultant = "unsubscribe-consultant"
	MsgReaderEvent           = "reader-event"
	MsgJoinRoom              = "join-room"
	MsgLeaveRoom             = "leave-room"
	MsgGetOnlineReaders      = "get-online-readers"
	MsgGetRecentEvents       = "get-recent-events"
)

// Server-to-client event names. Broadcast frames reuse the reader-event name
// and carry the full event as data.
const (
	MsgSubscribeSuccess    = "subscribe-consultant-success"
	MsgUnsubscribeSuccess  = "unsubscribe-consultant-success"
	MsgReaderEventReceived = "reader-event-received"
	MsgRoomJoined          = "room-joined"
	MsgRoomLeft            = "room-left"
	MsgOnlineReaders       = "online-readers"
	MsgRecentEvents        = "recent-events"
	MsgEventError          = "event-error"
)

// Envelope is the bidirectional wire frame: an event name plus a JSON data
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a complete outbound frame.
func NewEnvelope(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// SubscribeConsultantRequest optionally narrows the event types a consultant
// subscribes to; empty means all known types.
type SubscribeConsultantRequest struct {
	EventTypes []string `json:"eventTypes,omitempty"`
}

// SubscribeSuccessReply echoes the resolved event-type subscription list.
type SubscribeSuccessReply struct {
	EventTypes []string `json:"eventTypes"`
}

// ReaderEventRequest is a reader-submitted domain event.
type ReaderEventRequest struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// ReaderEventReceivedReply acknowledges a queued reader event.
type ReaderEventReceivedReply struct {
	EventID string `json:"eventId"`
}

// RoomReply acknowledges a membership change.
type RoomReply struct {
	Room string `json:"room"`
}

// OnlineReadersReply lists the currently online users.
type OnlineReadersReply struct {
	Count   int      `json:"count"`
	Readers []string `json:"readers"`
}

// RecentEventsRequest asks for a user's recent events. UserID defaults to
// the requesting session's own user.
type RecentEventsRequest struct {
	Limit  int    `json:"limit,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// RecentEventsReply carries the merged recent-events view.
type RecentEventsReply struct {
	Events []domain.Event `json:"events"`
}

// ErrorReply carries a human-readable failure message. Raw errors are never
// forwarded to clients.
type ErrorReply struct {
	Message string `json:"message"`
}
