package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/user/reader-relay/internal/adapter/metrics"
	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/usecase"
)

// client is the per-connection state the router operates on.
type client struct {
	session   domain.Session
	transport Transport
	limiter   *rate.Limiter
}

// Router is the socket session orchestrator: it gates connections through
// the authenticator, wires inbound frames to the queue and hub, and answers
// the consultant administrative queries.
type Router struct {
	logger   *slog.Logger
	auth     *Authenticator
	hub      *Hub
	enqueue  *usecase.EnqueueEventUseCase
	eventLog domain.EventLog
	presence domain.PresenceRepository
	metrics  *metrics.RelayMetrics

	allowedOrder []domain.EventType
	allowedTypes map[domain.EventType]struct{}
	rateWindow   time.Duration
	rateMax      int

	wg sync.WaitGroup
}

// NewRouter creates the orchestrator.
func NewRouter(
	logger *slog.Logger,
	auth *Authenticator,
	hub *Hub,
	enqueue *usecase.EnqueueEventUseCase,
	eventLog domain.EventLog,
	presence domain.PresenceRepository,
	m *metrics.RelayMetrics,
	allowedTypes []domain.EventType,
	rateWindow time.Duration,
	rateMax int,
) *Router {
	typeSet := make(map[domain.EventType]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		typeSet[t] = struct{}{}
	}
	return &Router{
		logger:       logger.With("component", "ws_router"),
		auth:         auth,
		hub:          hub,
		enqueue:      enqueue,
		eventLog:     eventLog,
		presence:     presence,
		metrics:      m,
		allowedOrder: allowedTypes,
		allowedTypes: typeSet,
		rateWindow:   rateWindow,
		rateMax:      rateMax,
	}
}

// ServeHTTP upgrades an authenticated request to a websocket session. An
// invalid credential refuses the connection before any handler is wired.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := rt.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		rt.logger.Error("failed to accept websocket connection", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	session := domain.Session{
		ID:          uuid.New(),
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
	}
	c := &client{
		session: session,
		limiter: newSessionLimiter(rt.rateWindow, rt.rateMax),
	}

	conn := NewConn(r.Context(), &rt.wg, sock, rt.logger.With("session_id", session.ID.String()),
		func(ctx context.Context, msg []byte) {
			rt.handleMessage(ctx, c, msg)
		},
		func(err error) {
			rt.hub.HandleDisconnect(context.Background(), session.ID)
		},
	)
	c.transport = conn

	rt.hub.HandleConnect(r.Context(), session, conn)
	conn.Run()
	<-conn.Done()
}

// Wait blocks until every connection goroutine has finished.
func (rt *Router) Wait() {
	rt.wg.Wait()
}

// handleMessage dispatches one inbound frame. Every error is converted into
// an event-error reply; the connection survives anything but a dead
// transport.
func (rt *Router) handleMessage(ctx context.Context, c *client, raw []byte) {
	if !c.limiter.Allow() {
		rt.reject(c, domain.ErrRateLimited, "rate_limited", "rate limit exceeded, slow down")
		return
	}

	name := gjson.GetBytes(raw, "event").String()
	if name == "" {
		rt.replyError(c, "malformed message: missing event name")
		return
	}
	data := []byte(gjson.GetBytes(raw, "data").Raw)

	switch name {
	case MsgSubscribeConsultant:
		rt.handleSubscribeConsultant(c, data)
	case MsgUnsubscribeConsultant:
		rt.handleUnsubscribeConsultant(c)
	case MsgReaderEvent:
		rt.handleReaderEvent(ctx, c, data)
	case MsgJoinRoom:
		rt.handleRoomChange(c, data, true)
	case MsgLeaveRoom:
		rt.handleRoomChange(c, data, false)
	case MsgGetOnlineReaders:
		rt.handleGetOnlineReaders(ctx, c)
	case MsgGetRecentEvents:
		rt.handleGetRecentEvents(ctx, c, data)
	default:
		rt.replyError(c, fmt.Sprintf("unknown event: %s", name))
	}
}

// requireRole rejects the single offending request when the session's role
// does not match; the connection stays open.
func (rt *Router) requireRole(c *client, roles ...domain.Role) bool {
	for _, role := range roles {
		if c.session.Identity.Role == role {
			return true
		}
	}
	rt.reject(c, domain.ErrForbidden, "forbidden",
		fmt.Sprintf("operation not permitted for role %s", c.session.Identity.Role))
	return false
}

// reject counts, logs and answers a request denied before reaching its
// handler.
func (rt *Router) reject(c *client, cause error, reason, message string) {
	if rt.metrics != nil {
		rt.metrics.RequestsDenied.WithLabelValues(reason).Inc()
	}
	rt.logger.Warn("request denied",
		"error", cause,
		"reason", reason,
		"session_id", c.session.ID,
		"user_id", c.session.Identity.UserID,
		"role", c.session.Identity.Role,
	)
	rt.replyError(c, message)
}

func (rt *Router) handleSubscribeConsultant(c *client, data []byte) {
	if !rt.requireRole(c, domain.RoleConsultant) {
		return
	}

	var req SubscribeConsultantRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			rt.replyError(c, "malformed subscribe payload")
			return
		}
	}

	// Resolve against the allowlist so caller-driven room names cannot
	// proliferate unboundedly.
	var resolved []domain.EventType
	if len(req.EventTypes) == 0 {
		resolved = rt.allowedOrder
	} else {
		for _, name := range req.EventTypes {
			t := domain.EventType(name)
			if _, ok := rt.allowedTypes[t]; ok {
				resolved = append(resolved, t)
			}
		}
	}

	if err := rt.hub.Join(c.session.ID, RoomConsultants); err != nil {
		rt.replyError(c, "subscription failed")
		return
	}
	names := make([]string, 0, len(resolved))
	for _, t := range resolved {
		if err := rt.hub.Join(c.session.ID, EventRoom(t)); err != nil {
			rt.replyError(c, "subscription failed")
			return
		}
		names = append(names, string(t))
	}

	rt.reply(c, MsgSubscribeSuccess, SubscribeSuccessReply{EventTypes: names})
}

func (rt *Router) handleUnsubscribeConsultant(c *client) {
	if !rt.requireRole(c, domain.RoleConsultant) {
		return
	}
	if err := rt.hub.Leave(c.session.ID, RoomConsultants); err != nil {
		rt.replyError(c, "unsubscribe failed")
		return
	}
	rt.reply(c, MsgUnsubscribeSuccess, struct{}{})
}

func (rt *Router) handleReaderEvent(ctx context.Context, c *client, data []byte) {
	if !rt.requireRole(c, domain.RoleReader) {
		return
	}

	var req ReaderEventRequest
	if err := json.Unmarshal(data, &req); err != nil {
		rt.replyError(c, "malformed reader event payload")
		return
	}
	eventType := domain.EventType(req.EventType)
	if _, ok := rt.allowedTypes[eventType]; !ok {
		rt.replyError(c, fmt.Sprintf("unknown event type: %s", req.EventType))
		return
	}

	event := domain.Event{
		UserID:    c.session.Identity.UserID,
		SessionID: c.session.ID.String(),
		Type:      eventType,
		Payload:   req.Data,
		Timestamp: time.Now().UTC(),
	}
	if err := rt.enqueue.Enqueue(ctx, &event); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			rt.reject(c, err, "capacity", "event queue is at capacity, try again later")
			return
		}
		rt.replyError(c, "failed to accept event")
		return
	}

	// Heartbeat: an accepted event proves the session is alive.
	if err := rt.presence.Touch(ctx, c.session.Identity.UserID); err != nil {
		rt.logger.Warn("failed to refresh last-seen", "error", err, "user_id", c.session.Identity.UserID)
	}

	rt.reply(c, MsgReaderEventReceived, ReaderEventReceivedReply{EventID: event.ID})
}

func (rt *Router) handleRoomChange(c *client, data []byte, join bool) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil || room == "" {
		rt.replyError(c, "malformed room name")
		return
	}
	if reservedRoom(room) && !rt.requireRole(c, domain.RoleConsultant) {
		return
	}

	var err error
	if join {
		err = rt.hub.Join(c.session.ID, room)
	} else {
		err = rt.hub.Leave(c.session.ID, room)
	}
	if err != nil {
		rt.replyError(c, "room change failed")
		return
	}

	if join {
		rt.reply(c, MsgRoomJoined, RoomReply{Room: room})
	} else {
		rt.reply(c, MsgRoomLeft, RoomReply{Room: room})
	}
}

func (rt *Router) handleGetOnlineReaders(ctx context.Context, c *client) {
	if !rt.requireRole(c, domain.RoleConsultant) {
		return
	}

	readers, err := rt.presence.OnlineUsers(ctx)
	if err != nil {
		rt.logger.Error("failed to list online users", "error", err)
		rt.replyError(c, "failed to fetch online readers")
		return
	}
	if readers == nil {
		readers = []string{}
	}
	rt.reply(c, MsgOnlineReaders, OnlineReadersReply{Count: len(readers), Readers: readers})
}

func (rt *Router) handleGetRecentEvents(ctx context.Context, c *client, data []byte) {
	var req RecentEventsRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			rt.replyError(c, "malformed recent events payload")
			return
		}
	}

	target := req.UserID
	if target == "" {
		target = c.session.Identity.UserID
	}
	// Consultants may inspect any user; everyone else only themselves.
	if target != c.session.Identity.UserID && !rt.requireRole(c, domain.RoleConsultant) {
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	events, err := rt.eventLog.RecentEvents(ctx, target, limit)
	if err != nil {
		rt.logger.Error("failed to fetch recent events", "error", err, "user_id", target)
		rt.replyError(c, "failed to fetch recent events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	rt.reply(c, MsgRecentEvents, RecentEventsReply{Events: events})
}

func (rt *Router) reply(c *client, event string, data any) {
	frame, err := NewEnvelope(event, data)
	if err != nil {
		rt.logger.Error("failed to marshal reply", "error", err, "event", event)
		return
	}
	if err := c.transport.Send(frame); err != nil {
		rt.logger.Warn("failed to deliver reply", "error", err, "event", event, "session_id", c.session.ID)
	}
}

func (rt *Router) replyError(c *client, message string) {
	rt.reply(c, MsgEventError, ErrorReply{Message: message})
}
