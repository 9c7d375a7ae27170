package handler

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/services"
)

const chatBody = `{"shopId":"shop-1","message":"Do you ship abroad?","userId":42}`

func TestChatSend(t *testing.T) {
	ts := newTestServer(t, false)
	var got services.ChatInput
	ts.chat.send = func(in services.ChatInput) (*services.ChatResult, error) {
		got = in
		return &services.ChatResult{ConversationID: "conv_1", Response: "Yes, worldwide."}, nil
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/coze/chat", chatBody))

	require.Equal(t, http.StatusOK, rec.Code)
	code, _, data := envelope(t, rec)
	assert.Equal(t, CodeOK, code)
	assert.JSONEq(t, `{"conversationId":"conv_1","response":"Yes, worldwide."}`, string(data))
	assert.Equal(t, services.ChatInput{ShopID: "shop-1", Message: "Do you ship abroad?", UserID: 42}, got)
}

func TestChatSend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"missing user", `{"shopId":"shop-1","message":"hi"}`, nil, http.StatusBadRequest},
		{"empty message", `{"shopId":"shop-1","message":"","userId":1}`, nil, http.StatusBadRequest},
		{"malformed body", `{"shopId":`, nil, http.StatusBadRequest},
		{"unknown conversation", chatBody, fmt.Errorf("conversation conv_x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"storage failure", chatBody, errors.New("save user message: db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.chat.send = func(services.ChatInput) (*services.ChatResult, error) {
				return nil, tt.err
			}

			rec := ts.do(jsonRequest(http.MethodPost, "/api/coze/chat", tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			code, msg, _ := envelope(t, rec)
			assert.Equal(t, CodeError, code)
			assert.NotEmpty(t, msg)
		})
	}
}

// sseLines returns the payloads of the data: lines in order
func sseLines(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		out = append(out, strings.TrimPrefix(line, "data: "))
	}
	return out
}

func TestChatStream_Completed(t *testing.T) {
	ts := newTestServer(t, false)
	ts.chat.stream = func(_ services.ChatInput, sink services.StreamSink) error {
		sink.Started("conv_1")
		sink.Chunk("Hel")
		sink.Chunk("lo")
		sink.Completed("conv_1", &domain.Usage{TokenCount: 12, OutputCount: 4, InputCount: 8})
		return nil
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/coze/chat/stream", chatBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	lines := sseLines(t, rec.Body.String())
	require.Len(t, lines, 5)
	assert.JSONEq(t, `{"event":"started","conversationId":"conv_1"}`, lines[0])
	assert.JSONEq(t, `{"event":"message","content":"Hel"}`, lines[1])
	assert.JSONEq(t, `{"event":"message","content":"lo"}`, lines[2])
	assert.JSONEq(t, `{"event":"completed","conversationId":"conv_1","usage":{"token_count":12,"output_count":4,"input_count":8}}`, lines[3])
	assert.Equal(t, "[DONE]", lines[4])
}

func TestChatStream_CompletedWithoutUsage(t *testing.T) {
	ts := newTestServer(t, false)
	ts.chat.stream = func(_ services.ChatInput, sink services.StreamSink) error {
		sink.Started("conv_1")
		sink.Completed("conv_1", nil)
		return nil
	}

	lines := sseLines(t, ts.do(jsonRequest(http.MethodPost, "/api/coze/chat/stream", chatBody)).Body.String())

	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"event":"completed","conversationId":"conv_1","usage":null}`, lines[1])
}

func TestChatStream_Failures(t *testing.T) {
	tests := []struct {
		name   string
		stream func(services.ChatInput, services.StreamSink) error
		want   []string
	}{
		{
			name: "provider error after start",
			stream: func(_ services.ChatInput, sink services.StreamSink) error {
				sink.Started("conv_1")
				sink.Chunk("partial")
				sink.Failed(errors.New("chat stream timed out"))
				return nil
			},
			want: []string{
				`{"event":"started","conversationId":"conv_1"}`,
				`{"event":"message","content":"partial"}`,
				`{"event":"error","error":"chat stream timed out"}`,
			},
		},
		{
			name: "unknown conversation",
			stream: func(services.ChatInput, services.StreamSink) error {
				return fmt.Errorf("conversation conv_x: %w", domain.ErrNotFound)
			},
			want: []string{`{"event":"error","error":"Conversation not found"}`},
		},
		{
			name: "storage failure before start",
			stream: func(services.ChatInput, services.StreamSink) error {
				return errors.New("save user message: db down")
			},
			want: []string{`{"event":"error","error":"Failed to start chat"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.chat.stream = tt.stream

			rec := ts.do(jsonRequest(http.MethodPost, "/api/coze/chat/stream", chatBody))

			require.Equal(t, http.StatusOK, rec.Code)
			lines := sseLines(t, rec.Body.String())
			require.Len(t, lines, len(tt.want)+1)
			for i, want := range tt.want {
				assert.JSONEq(t, want, lines[i])
			}
			assert.Equal(t, "[DONE]", lines[len(lines)-1])
		})
	}
}

func TestChatStream_ValidationIsPlainJSON(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(jsonRequest(http.MethodPost, "/api/coze/chat/stream", `{"message":"hi"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, _, _ := envelope(t, rec)
	assert.Equal(t, CodeError, code)
}

func TestSSESink_SettlesOnce(t *testing.T) {
	ts := newTestServer(t, false)
	ts.chat.stream = func(_ services.ChatInput, sink services.StreamSink) error {
		sink.Completed("conv_1", nil)
		sink.Failed(errors.New("late"))
		sink.Completed("conv_1", nil)
		return nil
	}

	lines := sseLines(t, ts.do(jsonRequest(http.MethodPost, "/api/coze/chat/stream", chatBody)).Body.String())

	assert.Len(t, lines, 2)
}
