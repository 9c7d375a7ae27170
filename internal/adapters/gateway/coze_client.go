// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/dto"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

var _ ports.ChatProvider = (*CozeClient)(nil)

// ErrCozeAPI wraps non-zero codes returned by the Coze open API
var ErrCozeAPI = errors.New("coze api error")

// CozeClientConfig tunes the chat relay client
type CozeClientConfig struct {
	BaseURL      string
	PollInterval time.Duration // between /v3/chat/retrieve calls
	PollAttempts int           // before giving up with a timeout reply
	Timeout      time.Duration // per non-streaming request
	DefaultBotID string        // used when neither the request nor the conversation names a bot
}

// CozeClient talks to the Coze v3 chat API
type CozeClient struct {
	http   *resty.Client
	stream *resty.Client // no client timeout; the caller's context bounds streams
	tokens ports.TokenSource
	cfg    CozeClientConfig
	log    zerolog.Logger
}

// NewCozeClient creates a Coze chat client
func NewCozeClient(cfg CozeClientConfig, tokens ports.TokenSource, log zerolog.Logger) *CozeClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CozeClient{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout),
		stream: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json"),
		tokens: tokens,
		cfg:    cfg,
		log:    log.With().Str("component", "coze").Logger(),
	}
}

func (c *CozeClient) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("coze token: %w", err)
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

func (c *CozeClient) withBot(req domain.ChatRequest) domain.ChatRequest {
	if req.BotID == "" {
		req.BotID = c.cfg.DefaultBotID
	}
	return req
}

func apiError(op string, resp *resty.Response, code int, msg string) error {
	if resp.IsError() {
		return fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode(), resp.String(), ErrCozeAPI)
	}
	if code != 0 {
		return fmt.Errorf("%s: code %d: %s: %w", op, code, msg, ErrCozeAPI)
	}
	return nil
}

// ============================================================================
// Synchronous chat (create + poll)
// ============================================================================

// Chat sends one turn and polls until the chat completes. Terminal provider
// statuses and an exhausted poll budget yield friendly replies, not errors.
func (c *CozeClient) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	req = c.withBot(req)
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if req.ConversationID != "" {
		r.SetQueryParam("conversation_id", req.ConversationID)
	}

	var created dto.CozeEnvelope[dto.CozeChat]
	resp, err := r.SetBody(dto.NewCozeChatRequest(req, false)).SetResult(&created).Post("/v3/chat")
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if err := apiError("create chat", resp, created.Code, created.Msg); err != nil {
		return nil, err
	}

	chat := created.Data
	log := c.log.With().Str("chat_id", chat.ID).Str("coze_conversation_id", chat.ConversationID).Logger()
	log.Debug().Str("bot_id", req.BotID).Msg("chat created")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := c.retrieve(ctx, chat.ConversationID, chat.ID)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("failed to poll chat status")
			continue
		}

		switch {
		case status.Status == dto.CozeStatusCompleted:
			content, err := c.answer(ctx, chat.ConversationID, chat.ID)
			if err != nil {
				return nil, err
			}
			return &domain.ChatReply{
				Content:        content,
				ConversationID: chat.ConversationID,
				ChatID:         chat.ID,
				Usage:          status.Usage.ToDomain(),
			}, nil

		case status.IsTerminalFailure():
			ev := log.Error().Str("status", status.Status)
			if status.LastError != nil {
				ev = ev.Int("error_code", status.LastError.Code).Str("error_message", status.LastError.Msg)
			}
			ev.Msg("chat ended without an answer")
			return &domain.ChatReply{
				Content:        domain.ReplyProviderFailed,
				ConversationID: chat.ConversationID,
				ChatID:         chat.ID,
			}, nil
		}
	}

	log.Warn().Int("attempts", c.cfg.PollAttempts).Msg("chat polling timed out")
	return &domain.ChatReply{
		Content:        domain.ReplyTimeout,
		ConversationID: chat.ConversationID,
		ChatID:         chat.ID,
	}, nil
}

func (c *CozeClient) retrieve(ctx context.Context, conversationID, chatID string) (*dto.CozeChat, error) {
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out dto.CozeEnvelope[dto.CozeChat]
	resp, err := r.
		SetQueryParams(map[string]string{"conversation_id": conversationID, "chat_id": chatID}).
		SetResult(&out).
		Get("/v3/chat/retrieve")
	if err != nil {
		return nil, fmt.Errorf("retrieve chat: %w", err)
	}
	if err := apiError("retrieve chat", resp, out.Code, out.Msg); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// answer returns the first assistant answer of a completed chat, or "".
func (c *CozeClient) answer(ctx context.Context, conversationID, chatID string) (string, error) {
	r, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	var out dto.CozeEnvelope[[]dto.CozeMessage]
	resp, err := r.
		SetQueryParams(map[string]string{"conversation_id": conversationID, "chat_id": chatID}).
		SetResult(&out).
		Get("/v3/chat/message/list")
	if err != nil {
		return "", fmt.Errorf("list chat messages: %w", err)
	}
	if err := apiError("list chat messages", resp, out.Code, out.Msg); err != nil {
		return "", err
	}
	for _, m := range out.Data {
		if m.IsAnswer() {
			return m.Content, nil
		}
	}
	return "", nil
}

// ============================================================================
// Streaming chat
// ============================================================================

// ChatStream starts a streaming turn and returns the undecoded event stream.
// The caller must Close it.
func (c *CozeClient) ChatStream(ctx context.Context, req domain.ChatRequest) (ports.ChatStream, error) {
	req = c.withBot(req)
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("coze token: %w", err)
	}

	r := c.stream.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "text/event-stream").
		SetBody(dto.NewCozeChatRequest(req, true)).
		SetDoNotParseResponse(true)
	if req.ConversationID != "" {
		r.SetQueryParam("conversation_id", req.ConversationID)
	}

	resp, err := r.Post("/v3/chat")
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	body := resp.RawBody()

	if resp.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		body.Close()
		return nil, fmt.Errorf("open chat stream: status %d: %s: %w", resp.StatusCode(), strings.TrimSpace(string(msg)), ErrCozeAPI)
	}

	// Request validation errors come back as a plain JSON body with status 200.
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		var basic dto.CozeBasicResponse
		err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&basic)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("open chat stream: decode error body: %w", err)
		}
		return nil, fmt.Errorf("open chat stream: code %d: %s: %w", basic.Code, basic.Msg, ErrCozeAPI)
	}

	return newCozeStream(body, c.log), nil
}
