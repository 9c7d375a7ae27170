package services

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// ErrEmptyStream is reported when the transport ends before any answer text arrived.
var ErrEmptyStream = errors.New("chat stream ended without a reply")

// StreamCallbacks receive the outcome of a streaming chat turn.
// Exactly one of OnComplete or OnError is invoked.
type StreamCallbacks struct {
	OnData     func(chunk string)
	OnComplete func(full string, usage *domain.Usage)
	OnError    func(err error)
}

// ConsumeStream drains stream, accumulating assistant answer deltas in order.
// A chat-completed event or the [DONE] marker completes the turn; if the
// transport ends first, accumulated content is still delivered.
func ConsumeStream(stream ports.ChatStream, cb StreamCallbacks, log zerolog.Logger) {
	defer stream.Close()

	var (
		content strings.Builder
		usage   *domain.Usage
		settled bool
	)
	complete := func() {
		if settled {
			return
		}
		settled = true
		if cb.OnComplete != nil {
			cb.OnComplete(content.String(), usage)
		}
	}
	fail := func(err error) {
		if settled {
			return
		}
		settled = true
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if content.Len() > 0 {
					complete()
				} else {
					fail(ErrEmptyStream)
				}
				return
			}
			log.Warn().Err(err).Int("partial_length", content.Len()).Msg("chat stream transport error")
			fail(err)
			return
		}

		switch ev.Kind {
		case domain.StreamMessageDelta:
			if !ev.IsAnswerDelta() || ev.Content == "" {
				continue
			}
			content.WriteString(ev.Content)
			if cb.OnData != nil && !settled {
				cb.OnData(ev.Content)
			}

		case domain.StreamChatCompleted:
			if ev.Usage != nil {
				usage = ev.Usage
			}
			complete()

		case domain.StreamMessageCompleted:
			// informational

		case domain.StreamChatFailed, domain.StreamError:
			msg := ev.ErrorMessage
			if msg == "" {
				msg = "chat provider reported an error"
			}
			fail(fmt.Errorf("%s (code %d)", msg, ev.ErrorCode))

		case domain.StreamDone:
			complete()
			return

		default:
			log.Debug().Str("event", string(ev.Kind)).Msg("ignoring chat stream event")
		}
	}
}
