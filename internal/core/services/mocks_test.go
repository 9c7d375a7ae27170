package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockConversationRepository mocks ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetOrCreate(ctx context.Context, inboxUserID int64, shopID, conversationID string, botID *string) (*domain.Conversation, error) {
	args := m.Called(ctx, inboxUserID, shopID, conversationID, botID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) GetByConversationID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) Touch(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

// MockMessageRepository mocks MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, conversationID, limit)
	if result := args.Get(0); result != nil {
		return result.([]domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockInboxUserRepository mocks InboxUserRepository interface
type MockInboxUserRepository struct {
	mock.Mock
}

func (m *MockInboxUserRepository) Login(ctx context.Context, email, shopID string) (*domain.InboxUser, error) {
	args := m.Called(ctx, email, shopID)
	if result := args.Get(0); result != nil {
		return result.(*domain.InboxUser), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockCatalog mocks the storefront catalog
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) ListProducts(ctx context.Context, limit, page int) ([]domain.Product, error) {
	args := m.Called(ctx, limit, page)
	if result := args.Get(0); result != nil {
		return result.([]domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockKnowledgeBase mocks the knowledge base
type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) ReplaceProducts(ctx context.Context, shopID string, csv []byte) error {
	return m.Called(ctx, shopID, csv).Error(0)
}

// MockChatProvider mocks the chat provider
type MockChatProvider struct {
	mock.Mock
}

func (m *MockChatProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*domain.ChatReply), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (ports.ChatStream, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(ports.ChatStream), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingRelay captures published messages
type recordingRelay struct {
	mu       sync.Mutex
	messages []domain.RelayMessage
}

func (r *recordingRelay) PublishMessage(conversationID string, msg domain.RelayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingRelay) ConnectionCount() int { return 0 }

func (r *recordingRelay) published() []domain.RelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RelayMessage(nil), r.messages...)
}

// scriptedStream replays a fixed event sequence, then returns end.
type scriptedStream struct {
	events []*domain.StreamEvent
	end    error
	closed bool
}

func (s *scriptedStream) Recv() (*domain.StreamEvent, error) {
	if len(s.events) == 0 {
		return nil, s.end
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
