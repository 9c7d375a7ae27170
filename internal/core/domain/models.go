// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"strings"
	"time"
)

// ConversationIDPrefix namespaces generated conversation identifiers.
const ConversationIDPrefix = "conv_"

// Conversation represents a chat thread between one inbox user and one shop
type Conversation struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"` // conv_<uuid>
	InboxUserID    int64     `json:"inboxUserId" db:"inbox_user_id"`
	ShopID         string    `json:"shopId" db:"shop_id"`
	BotID          *string   `json:"botId,omitempty" db:"bot_id"`
	LastChatDate   time.Time `json:"lastChatDate" db:"last_chat_date"`
	Deleted        bool      `json:"deleted" db:"deleted"` // soft delete only
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// BotOrDefault returns the associated bot id or "default".
func (c *Conversation) BotOrDefault() string {
	if c.BotID == nil || *c.BotID == "" {
		return "default"
	}
	return *c.BotID
}

// Sender constants for ChatMessage.Sender
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// ChatMessage is an append-only entry in a conversation
type ChatMessage struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	InboxUserID    int64     `json:"inboxUserId" db:"inbox_user_id"`
	ShopID         string    `json:"shopId" db:"shop_id"`
	BotID          string    `json:"botId" db:"bot_id"`
	Content        string    `json:"content" db:"content"`
	Sender         string    `json:"sender" db:"sender"` // user | assistant | system
	SessionID      *string   `json:"sessionId,omitempty" db:"session_id"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// InboxUser is the durable identity of a chat participant, keyed by (email, shop)
type InboxUser struct {
	ID        int64     `json:"id" db:"id"`
	ShopID    string    `json:"shopId" db:"shop_id"`
	ShopName  *string   `json:"shopName,omitempty" db:"shop_name"`
	UserEmail string    `json:"userEmail" db:"user_email"`
	UserName  *string   `json:"userName,omitempty" db:"user_name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// DisplayName returns the user name, or fallback when none is stored.
func (u *InboxUser) DisplayName(fallback string) string {
	if u.UserName == nil || *u.UserName == "" {
		return fallback
	}
	return *u.UserName
}

// DefaultUserName derives a display name from the local part of an email.
func DefaultUserName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// Product is a catalog entry as synchronized into the knowledge base
type Product struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	SKU         string  `json:"sku"`
	Quantity    int     `json:"qty"`
	URL         string  `json:"url"`
}

// Usage reports provider token consumption for one chat turn
type Usage struct {
	TokenCount  int `json:"token_count"`
	OutputCount int `json:"output_count"`
	InputCount  int `json:"input_count"`
}

// ChatRequest is a single user turn sent to the chat provider
type ChatRequest struct {
	BotID          string
	UserID         string
	Message        string
	ConversationID string // provider-side conversation, optional
}

// ChatReply is the result of a synchronous chat turn
type ChatReply struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
	ChatID         string `json:"chatId,omitempty"`
	Usage          *Usage `json:"usage,omitempty"`
}

// Friendly replies used when the chat provider cannot answer.
const (
	ReplyProviderFailed = "Sorry, I couldn't process your message right now. Please try again in a moment."
	ReplyTimeout        = "Sorry, this is taking longer than expected. Please try again shortly."
	ReplyPaused         = "Thanks for your message! Our assistant is offline right now; a team member will get back to you shortly."
)
