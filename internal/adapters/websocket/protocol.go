package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client -> server events
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventPing              = "ping"
)

// Server -> client events
const (
	EventAuthenticated      = "authenticated"
	EventJoinedConversation = "joined_conversation"
	EventLeftConversation   = "left_conversation"
	EventMessageReceived    = "message_received"
	EventTypingIndicator    = "typing_indicator"
	EventPresenceUpdate     = "presence_update"
	EventError              = "error"
	EventAck                = "ack"
	EventPong               = "pong"
)

// Presence statuses
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// roomPrefix namespaces conversation rooms
const roomPrefix = "conversation:"

// RoomName returns the room of a conversation
func RoomName(conversationID string) string {
	return roomPrefix + conversationID
}

// Envelope is one JSON frame in either direction.
// Ack, when set by the client, is echoed back in the matching ack frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
}

func encode(event string, data any, ack *int64) []byte {
	frame, err := json.Marshal(outbound{Event: event, Data: data, Ack: ack})
	if err != nil {
		// Payloads are plain structs; this only fails on programmer error.
		panic(fmt.Sprintf("encode %s frame: %v", event, err))
	}
	return frame
}

// AuthenticatedPayload is sent once after the upgrade
type AuthenticatedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

// ConversationRef names a conversation
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the data of send_message
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// TypingPayload is the data of typing_indicator
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// PresencePayload is the data of presence_update
type PresencePayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// AckPayload answers a send_message that carried an ack id
type AckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload reports a rejected client event
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// decodeConversationID accepts either a bare string or {"conversationId": "..."}.
func decodeConversationID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var ref ConversationRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return "", fmt.Errorf("conversationId is required")
		}
		id = ref.ConversationID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("conversationId is required")
	}
	return id, nil
}
