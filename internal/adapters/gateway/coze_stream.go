package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/dto"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

var _ ports.ChatStream = (*cozeStream)(nil)

// errIgnoredEvent marks well-formed events that carry nothing for the consumer.
var errIgnoredEvent = errors.New("ignored stream event")

// cozeStream decodes a server-sent event body lazily, one event per Recv.
type cozeStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	log    zerolog.Logger
	done   bool
}

func newCozeStream(body io.ReadCloser, log zerolog.Logger) *cozeStream {
	return &cozeStream{
		body:   body,
		reader: bufio.NewReader(body),
		log:    log,
	}
}

// Recv returns the next decoded event. Malformed events are logged and
// skipped. io.EOF is returned once the body is exhausted or after [DONE].
func (s *cozeStream) Recv() (*domain.StreamEvent, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		name, data, err := s.next()
		if err != nil {
			return nil, err
		}

		event, err := decodeStreamEvent(name, data)
		if errors.Is(err, errIgnoredEvent) {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("event", name).Msg("skipping malformed stream event")
			continue
		}
		if event.Kind == domain.StreamDone {
			s.done = true
		}
		return event, nil
	}
}

// next reads one SSE block: `event:` and `data:` lines terminated by a blank line.
func (s *cozeStream) next() (string, string, error) {
	var (
		name string
		data []string
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", "", fmt.Errorf("read stream: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				return name, strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			if name != "" || len(data) > 0 {
				return name, strings.Join(data, "\n"), nil
			}
			return "", "", io.EOF
		}
	}
}

// Close releases the response body.
func (s *cozeStream) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

func isDoneMarker(data string) bool {
	return data == "[DONE]" || data == `"[DONE]"`
}

// decodeStreamEvent maps one SSE block onto a domain event.
func decodeStreamEvent(name, data string) (*domain.StreamEvent, error) {
	if name == string(domain.StreamDone) || isDoneMarker(data) {
		return &domain.StreamEvent{Kind: domain.StreamDone}, nil
	}

	switch domain.StreamEventKind(name) {
	case domain.StreamMessageDelta, domain.StreamMessageCompleted:
		var msg dto.CozeMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return &domain.StreamEvent{
			Kind:           domain.StreamEventKind(name),
			Role:           msg.Role,
			Type:           msg.Type,
			Content:        msg.Content,
			ConversationID: msg.ConversationID,
			ChatID:         msg.ChatID,
		}, nil

	case domain.StreamChatCompleted, domain.StreamChatFailed:
		var chat dto.CozeChat
		if err := json.Unmarshal([]byte(data), &chat); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		event := &domain.StreamEvent{
			Kind:           domain.StreamEventKind(name),
			ConversationID: chat.ConversationID,
			ChatID:         chat.ID,
			Usage:          chat.Usage.ToDomain(),
		}
		if chat.LastError != nil {
			event.ErrorCode = chat.LastError.Code
			event.ErrorMessage = chat.LastError.Msg
		}
		return event, nil

	case domain.StreamError:
		var e dto.CozeStreamError
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			// Plain-text error bodies still end the turn as a failure.
			msg := strings.TrimSpace(data)
			if msg == "" {
				msg = "stream error"
			}
			return &domain.StreamEvent{Kind: domain.StreamError, ErrorMessage: msg}, nil
		}
		return &domain.StreamEvent{Kind: domain.StreamError, ErrorCode: e.Code, ErrorMessage: e.Msg}, nil

	case "":
		return nil, fmt.Errorf("event without name: %q", data)
	}

	// conversation.chat.created, conversation.chat.in_progress, audio deltas, ...
	return nil, errIgnoredEvent
}
