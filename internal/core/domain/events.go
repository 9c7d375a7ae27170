package domain

import "time"

// Sender identifies who a relayed message is attributed to
type Sender struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"` // admin | customer | bot
}

// Relay roles
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	RoleBot      = "bot"
)

// Well-known senders for server-originated messages
var (
	SenderOrderSystem = Sender{UserID: "system", UserName: "Order System", Role: RoleBot}
	SenderWelcomeBot  = Sender{UserID: "system", UserName: "Welcome Bot", Role: RoleBot}
	SenderAssistantAI = Sender{UserID: "bot", UserName: "AI Assistant", Role: RoleBot}
)

// RelayMessage is what live clients receive as message_received
type RelayMessage struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
}

// StreamEventKind classifies one event of a streaming chat response
type StreamEventKind string

const (
	StreamMessageDelta     StreamEventKind = "conversation.message.delta"
	StreamMessageCompleted StreamEventKind = "conversation.message.completed"
	StreamChatCompleted    StreamEventKind = "conversation.chat.completed"
	StreamChatFailed       StreamEventKind = "conversation.chat.failed"
	StreamError            StreamEventKind = "error"
	StreamDone             StreamEventKind = "done"
)

// StreamEvent is one decoded event of a streaming chat response.
// Fields are populated according to Kind.
type StreamEvent struct {
	Kind           StreamEventKind
	Role           string
	Type           string
	Content        string
	ConversationID string
	ChatID         string
	Usage          *Usage
	ErrorCode      int
	ErrorMessage   string
}

// IsAnswerDelta reports whether the event carries assistant answer text.
func (e StreamEvent) IsAnswerDelta() bool {
	return e.Kind == StreamMessageDelta && e.Role == "assistant" && e.Type == "answer"
}
