package ports

import (
	"context"

	"shop-assist/internal/core/domain"
)

// ChatStream is a lazy, finite sequence of provider events.
// Recv returns io.EOF once the transport is exhausted.
type ChatStream interface {
	Recv() (*domain.StreamEvent, error)
	Close() error
}

// ChatProvider is the external conversational-AI service
type ChatProvider interface {
	// Chat runs one turn synchronously, polling until completion or the
	// attempt budget is spent. Provider-side failure yields a friendly reply.
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)

	// ChatStream starts a streaming turn.
	ChatStream(ctx context.Context, req domain.ChatRequest) (ChatStream, error)
}

// TokenSource hands out provider access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Catalog is the storefront product source
type Catalog interface {
	ListProducts(ctx context.Context, limit, page int) ([]domain.Product, error)
}

// KnowledgeBase stores documents the chat provider answers from
type KnowledgeBase interface {
	// ReplaceProducts swaps the product document wholesale.
	ReplaceProducts(ctx context.Context, shopID string, csv []byte) error
}

// Relay fans out messages to live clients
type Relay interface {
	PublishMessage(conversationID string, msg domain.RelayMessage)
	ConnectionCount() int
}

// Identity is an authenticated caller
type Identity struct {
	UserID   string
	UserName string
	Role     string
}

// TokenVerifier validates admin tokens
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}
