package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{notifications: make(map[string]*domain.Notification)}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *n
	m.notifications[n.ID] = &clone
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) List(_ context.Context, userID string, f domain.NotificationFilter) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	for _, n := range m.notifications {
		if n.UserID != userID || (f.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		clone := *n
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MockNotificationRepository) MarkRead(_ context.Context, userID string, ids []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for _, id := range ids {
		if n, ok := m.notifications[id]; ok && n.UserID == userID && n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}

func (m *MockNotificationRepository) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}

func (m *MockNotificationRepository) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// All returns every stored notification; test helper.
func (m *MockNotificationRepository) All() []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		clone := *n
		result = append(result, &clone)
	}
	return result
}
