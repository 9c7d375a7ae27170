package services

import (
	"context"

	"github.com/google/uuid"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// ConversationService owns conversation identity generation.
type ConversationService struct {
	repo  ports.ConversationRepository
	newID func() string
}

// NewConversationService creates a conversation service over repo
func NewConversationService(repo ports.ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo, newID: NewConversationID}
}

// NewConversationID returns a fresh conv_-prefixed identifier.
func NewConversationID() string {
	return domain.ConversationIDPrefix + uuid.NewString()
}

// GetOrCreate returns the active conversation for (user, shop), creating one if needed.
// Repeated calls return the same id and only refresh the last-activity timestamp.
func (s *ConversationService) GetOrCreate(ctx context.Context, inboxUserID int64, shopID string, botID *string) (*domain.Conversation, error) {
	return s.repo.GetOrCreate(ctx, inboxUserID, shopID, s.newID(), botID)
}

// Get returns an existing conversation or domain.ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return s.repo.GetByConversationID(ctx, conversationID)
}

// Touch refreshes the conversation's last-activity timestamp.
func (s *ConversationService) Touch(ctx context.Context, conversationID string) error {
	return s.repo.Touch(ctx, conversationID)
}
