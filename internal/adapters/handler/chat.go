package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/services"
)

// ChatRunner runs storefront chat turns
type ChatRunner interface {
	Send(ctx context.Context, in services.ChatInput) (*services.ChatResult, error)
	Stream(ctx context.Context, in services.ChatInput, sink services.StreamSink) error
}

// ChatHandler exposes the chat relay to the storefront widget
type ChatHandler struct {
	chat ChatRunner
	log  zerolog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat ChatRunner, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log.With().Str("component", "chat-http").Logger()}
}

// bindChatInput decodes and validates a chat request; failures render through ErrorHandler.
func bindChatInput(c echo.Context, in *services.ChatInput) error {
	if err := c.Bind(in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "shopId, message and userId are required")
	}
	return nil
}

// Send runs a synchronous chat turn
// POST /api/coze/chat
func (h *ChatHandler) Send(c echo.Context) error {
	var in services.ChatInput
	if err := bindChatInput(c, &in); err != nil {
		return err
	}

	result, err := h.chat.Send(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Conversation not found")
		}
		h.log.Error().Err(err).Int64("user_id", in.UserID).Str("shop_id", in.ShopID).Msg("chat turn failed")
		return fail(c, http.StatusInternalServerError, "Failed to process chat message")
	}
	return ok(c, "success", result)
}

// Stream runs a streaming chat turn as a text/event-stream
// POST /api/coze/chat/stream
func (h *ChatHandler) Stream(c echo.Context) error {
	var in services.ChatInput
	if err := bindChatInput(c, &in); err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no") // disable proxy buffering
	res.WriteHeader(http.StatusOK)

	sink := &sseSink{res: res, log: h.log}
	if err := h.chat.Stream(c.Request().Context(), in, sink); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			sink.fail("Conversation not found")
			return nil
		}
		h.log.Error().Err(err).Int64("user_id", in.UserID).Str("shop_id", in.ShopID).Msg("failed to start chat stream")
		sink.fail("Failed to start chat")
		return nil
	}
	return nil
}

// ============================================================================
// SSE sink
// ============================================================================

type sseEvent struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	Error          string `json:"error,omitempty"`
}

// usage is always present on completion, null when the provider sent none
type sseCompleted struct {
	Event          string        `json:"event"`
	ConversationID string        `json:"conversationId"`
	Usage          *domain.Usage `json:"usage"`
}

// sseSink writes chat stream phases as `data:` lines. Every stream ends with
// `data: [DONE]` whether it completed or failed.
type sseSink struct {
	res  *echo.Response
	log  zerolog.Logger
	done bool
}

func (s *sseSink) write(line string) {
	if _, err := fmt.Fprintf(s.res, "data: %s\n\n", line); err != nil {
		s.log.Debug().Err(err).Msg("sse client gone")
		return
	}
	s.res.Flush()
}

func (s *sseSink) emit(ev any) {
	frame, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode sse event")
		return
	}
	s.write(string(frame))
}

func (s *sseSink) finish() {
	s.write("[DONE]")
	s.done = true
}

func (s *sseSink) Started(conversationID string) {
	s.emit(sseEvent{Event: "started", ConversationID: conversationID})
}

func (s *sseSink) Chunk(content string) {
	s.emit(sseEvent{Event: "message", Content: content})
}

func (s *sseSink) Completed(conversationID string, usage *domain.Usage) {
	if s.done {
		return
	}
	s.emit(sseCompleted{Event: "completed", ConversationID: conversationID, Usage: usage})
	s.finish()
}

func (s *sseSink) Failed(err error) {
	s.fail(err.Error())
}

func (s *sseSink) fail(msg string) {
	if s.done {
		return
	}
	s.emit(sseEvent{Event: "error", Error: msg})
	s.finish()
}
