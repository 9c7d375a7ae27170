package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
	"shop-assist/internal/metrics"
)

// Friendly replies used when the provider cannot answer.
const (
	ReplyProviderFailed = domain.ReplyProviderFailed
	ReplyTimeout        = domain.ReplyTimeout
)

// ChatInput is one customer chat turn received over HTTP
type ChatInput struct {
	ShopID         string `json:"shopId" validate:"required"`
	Message        string `json:"message" validate:"required"`
	UserID         int64  `json:"userId" validate:"required,gt=0"`
	ConversationID string `json:"conversationId,omitempty"`
	BotID          string `json:"botId,omitempty"`
}

// ChatResult is the synchronous chat response
type ChatResult struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

// StreamSink receives the phases of a streaming chat turn.
type StreamSink interface {
	Started(conversationID string)
	Chunk(content string)
	Completed(conversationID string, usage *domain.Usage)
	Failed(err error)
}

// ChatService runs the HTTP chat flow: conversation, persistence, provider, relay
type ChatService struct {
	provider      ports.ChatProvider
	conversations *ConversationService
	messages      ports.MessageRepository
	relay         ports.Relay
	pause         *AssistantPause
	streamTimeout time.Duration
	log           zerolog.Logger
}

// NewChatService creates a chat service with dependencies injected
func NewChatService(
	provider ports.ChatProvider,
	conversations *ConversationService,
	messages ports.MessageRepository,
	relay ports.Relay,
	streamTimeout time.Duration,
	log zerolog.Logger,
) *ChatService {
	if streamTimeout <= 0 {
		streamTimeout = 2 * time.Minute
	}
	return &ChatService{
		provider:      provider,
		conversations: conversations,
		messages:      messages,
		relay:         relay,
		streamTimeout: streamTimeout,
		log:           log.With().Str("component", "chat").Logger(),
	}
}

// WithPause attaches the operator switch consulted before each provider call.
func (s *ChatService) WithPause(p *AssistantPause) *ChatService {
	s.pause = p
	return s
}

// resolve returns the named conversation (ErrNotFound if absent) or the user's active one.
func (s *ChatService) resolve(ctx context.Context, in ChatInput) (*domain.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := s.conversations.Get(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if err := s.conversations.Touch(ctx, conv.ConversationID); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conv.ConversationID).Msg("failed to touch conversation")
		}
		return conv, nil
	}

	var botID *string
	if in.BotID != "" {
		botID = &in.BotID
	}
	return s.conversations.GetOrCreate(ctx, in.UserID, in.ShopID, botID)
}

func (s *ChatService) botFor(conv *domain.Conversation, in ChatInput) string {
	if conv.BotID != nil && *conv.BotID != "" {
		return *conv.BotID
	}
	return in.BotID
}

func (s *ChatService) save(ctx context.Context, conv *domain.Conversation, in ChatInput, sender, content string) error {
	msg := &domain.ChatMessage{
		ConversationID: conv.ConversationID,
		InboxUserID:    in.UserID,
		ShopID:         in.ShopID,
		BotID:          s.botFor(conv, in),
		Content:        content,
		Sender:         sender,
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save %s message: %w", sender, err)
	}
	return nil
}

func (s *ChatService) publish(conversationID, content string) {
	s.relay.PublishMessage(conversationID, domain.RelayMessage{
		ConversationID: conversationID,
		Content:        content,
		Sender:         domain.SenderAssistantAI,
		Timestamp:      time.Now().UTC(),
	})
}

// Send runs one synchronous chat turn. Provider failures degrade to a friendly reply.
func (s *ChatService) Send(ctx context.Context, in ChatInput) (*ChatResult, error) {
	conv, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, conv, in, domain.SenderUser, in.Message); err != nil {
		return nil, err
	}

	if s.pause.Active() {
		return s.replyPaused(ctx, conv, in, "sync")
	}

	reply, err := s.provider.Chat(ctx, domain.ChatRequest{
		BotID:   s.botFor(conv, in),
		UserID:  strconv.FormatInt(in.UserID, 10),
		Message: in.Message,
	})
	content := ReplyProviderFailed
	switch {
	case err != nil:
		s.log.Error().Err(err).Str("conversation_id", conv.ConversationID).Msg("chat provider request failed")
		metrics.ChatReplies.WithLabelValues("sync", "error").Inc()
	case reply.Content == "":
		metrics.ChatReplies.WithLabelValues("sync", "empty").Inc()
	default:
		content = reply.Content
		metrics.ChatReplies.WithLabelValues("sync", "ok").Inc()
	}

	if err := s.save(ctx, conv, in, domain.SenderAssistant, content); err != nil {
		return nil, err
	}
	s.publish(conv.ConversationID, content)

	return &ChatResult{ConversationID: conv.ConversationID, Response: content}, nil
}

// Stream runs one streaming chat turn, reporting each phase to sink.
// The returned error covers only failures before streaming began.
func (s *ChatService) Stream(ctx context.Context, in ChatInput, sink StreamSink) error {
	conv, err := s.resolve(ctx, in)
	if err != nil {
		return err
	}
	if err := s.save(ctx, conv, in, domain.SenderUser, in.Message); err != nil {
		return err
	}
	sink.Started(conv.ConversationID)

	if s.pause.Active() {
		if _, err := s.replyPaused(ctx, conv, in, "stream"); err != nil {
			sink.Failed(err)
			return nil
		}
		sink.Chunk(domain.ReplyPaused)
		sink.Completed(conv.ConversationID, nil)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	defer cancel()

	stream, err := s.provider.ChatStream(ctx, domain.ChatRequest{
		BotID:   s.botFor(conv, in),
		UserID:  strconv.FormatInt(in.UserID, 10),
		Message: in.Message,
	})
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conv.ConversationID).Msg("failed to open chat stream")
		metrics.ChatReplies.WithLabelValues("stream", "error").Inc()
		sink.Failed(err)
		return nil
	}

	ConsumeStream(stream, StreamCallbacks{
		OnData: sink.Chunk,
		OnComplete: func(full string, usage *domain.Usage) {
			// The request context may already be done; persistence must still happen.
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.save(saveCtx, conv, in, domain.SenderAssistant, full); err != nil {
				s.log.Error().Err(err).Str("conversation_id", conv.ConversationID).Msg("failed to persist streamed reply")
			}
			s.publish(conv.ConversationID, full)
			metrics.ChatReplies.WithLabelValues("stream", "ok").Inc()
			sink.Completed(conv.ConversationID, usage)
		},
		OnError: func(err error) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("chat stream timed out: %w", err)
			}
			s.log.Error().Err(err).Str("conversation_id", conv.ConversationID).Msg("chat stream failed")
			metrics.ChatReplies.WithLabelValues("stream", "error").Inc()
			sink.Failed(err)
		},
	}, s.log)
	return nil
}

// replyPaused answers with the handoff message while the assistant is paused.
func (s *ChatService) replyPaused(ctx context.Context, conv *domain.Conversation, in ChatInput, mode string) (*ChatResult, error) {
	if err := s.save(ctx, conv, in, domain.SenderAssistant, domain.ReplyPaused); err != nil {
		return nil, err
	}
	s.publish(conv.ConversationID, domain.ReplyPaused)
	metrics.ChatReplies.WithLabelValues(mode, "paused").Inc()
	return &ChatResult{ConversationID: conv.ConversationID, Response: domain.ReplyPaused}, nil
}
