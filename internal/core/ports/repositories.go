// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"shop-assist/internal/core/domain"
)

// ConversationRepository handles conversation/thread management
type ConversationRepository interface {
	// GetOrCreate returns the most recently active conversation for (user, shop)
	// and touches its last-activity timestamp, or creates one with conversationID.
	GetOrCreate(ctx context.Context, inboxUserID int64, shopID, conversationID string, botID *string) (*domain.Conversation, error)

	// GetByConversationID returns domain.ErrNotFound for unknown or deleted ids.
	GetByConversationID(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Touch updates the last-activity timestamp.
	Touch(ctx context.Context, conversationID string) error
}

// MessageRepository handles persistence of chat messages
type MessageRepository interface {
	// SaveMessage appends a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error)
}

// InboxUserRepository resolves chat participants
type InboxUserRepository interface {
	// Login looks up the user for (email, shop), creating it if absent.
	Login(ctx context.Context, email, shopID string) (*domain.InboxUser, error)
}

// JobBroker is the durable store behind the job queue.
// A popped job is owned by the caller until Complete, Retry or Fail.
type JobBroker interface {
	Push(ctx context.Context, job *domain.WebhookJob) error
	// Pop promotes due delayed jobs and returns the highest-priority oldest
	// waiting job marked active with Attempts incremented, or (nil, nil)
	// when none is ready.
	Pop(ctx context.Context) (*domain.WebhookJob, error)
	Complete(ctx context.Context, job *domain.WebhookJob) error
	Retry(ctx context.Context, job *domain.WebhookJob, delay time.Duration) error
	Fail(ctx context.Context, job *domain.WebhookJob) error

	Stats(ctx context.Context) (domain.QueueStats, error)
	Failed(ctx context.Context, limit int) ([]*domain.WebhookJob, error)
	Requeue(ctx context.Context, jobID string) (*domain.WebhookJob, error)
	Clean(ctx context.Context, grace time.Duration) (int, error)
	// RecoverActive moves jobs left active by a crashed process back to waiting.
	RecoverActive(ctx context.Context) (int, error)
}
