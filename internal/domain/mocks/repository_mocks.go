package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/user/reader-relay/internal/domain"
)

// ScoredItem is a queued item together with its eligible-at score.
type ScoredItem struct {
	Item       domain.QueuedEvent
	EligibleAt time.Time
}

// MockEventQueue is an in-memory implementation of domain.EventQueue for
// testing. Like the real client, every method fails once its context is
// cancelled.
type MockEventQueue struct {
	mu          sync.Mutex
	Items       []ScoredItem
	Capacity    int
	DeadLetters []domain.DeadLetterEntry
	Requeues    []ScoredItem

	EnqueueErr    error
	PopErr        error
	RequeueErr    error
	DeadLetterErr error
}

func (m *MockEventQueue) Enqueue(ctx context.Context, item domain.QueuedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	if m.Capacity > 0 && len(m.Items) >= m.Capacity {
		return domain.ErrQueueFull
	}
	m.Items = append(m.Items, ScoredItem{Item: item, EligibleAt: item.EnqueuedAt})
	return nil
}

func (m *MockEventQueue) PopEligible(ctx context.Context, now time.Time) (*domain.QueuedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PopErr != nil {
		return nil, m.PopErr
	}
	sort.SliceStable(m.Items, func(i, j int) bool {
		return m.Items[i].EligibleAt.Before(m.Items[j].EligibleAt)
	})
	for i, scored := range m.Items {
		if !scored.EligibleAt.After(now) {
			m.Items = append(m.Items[:i], m.Items[i+1:]...)
			item := scored.Item
			return &item, nil
		}
	}
	return nil, nil
}

func (m *MockEventQueue) Requeue(ctx context.Context, item domain.QueuedEvent, eligibleAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RequeueErr != nil {
		return m.RequeueErr
	}
	scored := ScoredItem{Item: item, EligibleAt: eligibleAt}
	m.Requeues = append(m.Requeues, scored)
	m.Items = append(m.Items, scored)
	return nil
}

func (m *MockEventQueue) PushDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeadLetterErr != nil {
		return m.DeadLetterErr
	}
	m.DeadLetters = append(m.DeadLetters, entry)
	return nil
}

func (m *MockEventQueue) Depth(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Items)), nil
}

func (m *MockEventQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.DeadLetters)), nil
}

// Len reports the number of pending items regardless of eligibility.
func (m *MockEventQueue) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Items)
}

// MockEventLog is an in-memory implementation of domain.EventLog for testing.
type MockEventLog struct {
	mu        sync.Mutex
	Appended  []domain.Event
	AppendErr error
	RecentErr error
}

func (m *MockEventLog) Append(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.Appended = append(m.Appended, event)
	return nil
}

func (m *MockEventLog) RecentEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	var out []domain.Event
	for i := len(m.Appended) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Appended[i].UserID == userID {
			out = append(out, m.Appended[i])
		}
	}
	return out, nil
}

// MockEventSink is an in-memory implementation of domain.EventSink for testing.
type MockEventSink struct {
	mu       sync.Mutex
	Stored   []domain.Event
	StoreErr error
	StatsErr error
}

func (m *MockEventSink) Store(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.Stored = append(m.Stored, event)
	return nil
}

func (m *MockEventSink) AggregateStats(ctx context.Context) (*domain.EventAggregates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	agg := &domain.EventAggregates{EventsByType: make(map[string]int64)}
	users := make(map[string]struct{})
	for _, ev := range m.Stored {
		agg.TotalEvents++
		agg.EventsByType[string(ev.Type)]++
		users[ev.UserID] = struct{}{}
	}
	agg.DistinctUsers = int64(len(users))
	return agg, nil
}

// MockPresenceRepository is an in-memory implementation of
// domain.PresenceRepository for testing.
type MockPresenceRepository struct {
	mu       sync.Mutex
	Online   map[string]struct{}
	Seen     map[string]time.Time
	SetErr   error
	TouchErr error
	ListErr  error
}

func (m *MockPresenceRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.Online == nil {
		m.Online = make(map[string]struct{})
	}
	if m.Seen == nil {
		m.Seen = make(map[string]time.Time)
	}
	if online {
		m.Online[userID] = struct{}{}
	} else {
		delete(m.Online, userID)
	}
	m.Seen[userID] = time.Now().UTC()
	return nil
}

func (m *MockPresenceRepository) Touch(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TouchErr != nil {
		return m.TouchErr
	}
	if m.Seen == nil {
		m.Seen = make(map[string]time.Time)
	}
	m.Seen[userID] = time.Now().UTC()
	return nil
}

func (m *MockPresenceRepository) OnlineUsers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	users := make([]string, 0, len(m.Online))
	for u := range m.Online {
		users = append(users, u)
	}
	return users, nil
}

func (m *MockPresenceRepository) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.Seen[userID]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	return ts, nil
}

func (m *MockPresenceRepository) Snapshot(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.Seen[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	_, online := m.Online[userID]
	return &domain.PresenceRecord{UserID: userID, Online: online, LastSeen: ts}, nil
}
