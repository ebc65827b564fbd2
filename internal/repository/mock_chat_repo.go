package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

type mockConversation struct {
	sellerID      string
	participants  map[string]int // user id -> unread count
	lastMessageAt *time.Time
	notifiedAt    *time.Time
}

// MockChatRepository is an in-memory ChatRepository for tests.
type MockChatRepository struct {
	mu            sync.RWMutex
	conversations map[string]*mockConversation
	messages      []*domain.Message
	reads         map[string]string // conversation|user -> last read message id

	CreateMessageErr error
}

func NewMockChatRepository() *MockChatRepository {
	return &MockChatRepository{
		conversations: make(map[string]*mockConversation),
		reads:         make(map[string]string),
	}
}

// AddConversation seeds a conversation owned by sellerID with the given participants.
func (m *MockChatRepository) AddConversation(id, sellerID string, participants ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &mockConversation{sellerID: sellerID, participants: make(map[string]int)}
	for _, p := range participants {
		c.participants[p] = 0
	}
	m.conversations[id] = c
}

// SetLastMessageAt backdates a conversation for inactivity tests.
func (m *MockChatRepository) SetLastMessageAt(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.lastMessageAt = &at
	}
}

func (m *MockChatRepository) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = c.participants[userID]
	return ok, nil
}

func (m *MockChatRepository) ConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, c := range m.conversations {
		if _, ok := c.participants[userID]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockChatRepository) CreateMessage(_ context.Context, msg *domain.Message) error {
	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return domain.ErrNotFound
	}
	for uid := range c.participants {
		if uid != msg.SenderID {
			c.participants[uid]++
		}
	}
	at := msg.CreatedAt
	c.lastMessageAt = &at
	clone := *msg
	m.messages = append(m.messages, &clone)
	return nil
}

func (m *MockChatRepository) MarkRead(_ context.Context, conversationID, userID, messageID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return domain.ErrNotParticipant
	}
	if _, ok := c.participants[userID]; !ok {
		return domain.ErrNotParticipant
	}
	c.participants[userID] = 0
	m.reads[conversationID+"|"+userID] = messageID
	return nil
}

func (m *MockChatRepository) FindInactive(_ context.Context, sellerID string, before time.Time, afterID string, limit int) ([]domain.InactiveConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []domain.InactiveConversation
	for _, id := range ids {
		c := m.conversations[id]
		if id <= afterID || (sellerID != "" && c.sellerID != sellerID) {
			continue
		}
		if c.lastMessageAt != nil && !c.lastMessageAt.Before(before) {
			continue
		}
		if c.notifiedAt != nil && (c.lastMessageAt == nil || !c.notifiedAt.Before(*c.lastMessageAt)) {
			continue
		}
		result = append(result, domain.InactiveConversation{ConversationID: id, SellerID: c.sellerID, LastMessageAt: c.lastMessageAt})
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockChatRepository) MarkInactivityNotified(_ context.Context, conversationIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range conversationIDs {
		if c, ok := m.conversations[id]; ok {
			notified := at
			c.notifiedAt = &notified
		}
	}
	return nil
}

// Messages returns every stored message; test helper.
func (m *MockChatRepository) Messages() []*domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.Message(nil), m.messages...)
}

// Unread returns a participant's unread counter; test helper.
func (m *MockChatRepository) Unread(conversationID, userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.conversations[conversationID]; ok {
		return c.participants[userID]
	}
	return 0
}

// MockUserRepository is an in-memory UserRepository for tests.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func NewMockUserRepository(users ...*domain.User) *MockUserRepository {
	m := &MockUserRepository{users: make(map[string]*domain.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

// MockSubscriptionRepository is an in-memory SubscriptionRepository for tests.
type MockSubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]*domain.Subscription
}

func NewMockSubscriptionRepository(subs ...*domain.Subscription) *MockSubscriptionRepository {
	m := &MockSubscriptionRepository{subs: make(map[string]*domain.Subscription)}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

func (m *MockSubscriptionRepository) GetByID(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *MockSubscriptionRepository) Cancel(_ context.Context, id string, from ...domain.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if s.Status == status {
			s.Status = domain.SubscriptionCanceled
			s.CancelAtPeriodEnd = false
			return true, nil
		}
	}
	return false, nil
}
