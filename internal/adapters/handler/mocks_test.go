package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/services"
)

// ============================================================================
// Mocks
// ============================================================================

// MockQueue mocks WebhookQueue and QueueStatser
type MockQueue struct {
	mock.Mock
	inline bool
}

func (m *MockQueue) Enqueue(ctx context.Context, t domain.JobType, event domain.WebhookEvent) (*domain.WebhookJob, error) {
	args := m.Called(ctx, t, event)
	if result := args.Get(0); result != nil {
		return result.(*domain.WebhookJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.QueueStats), args.Error(1)
}

func (m *MockQueue) Failed(ctx context.Context, limit int) ([]*domain.WebhookJob, error) {
	args := m.Called(ctx, limit)
	if result := args.Get(0); result != nil {
		return result.([]*domain.WebhookJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) Retry(ctx context.Context, jobID string) (*domain.WebhookJob, error) {
	args := m.Called(ctx, jobID)
	if result := args.Get(0); result != nil {
		return result.(*domain.WebhookJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) Inline() bool { return m.inline }

// fakeChat runs scripted chat turns
type fakeChat struct {
	send   func(in services.ChatInput) (*services.ChatResult, error)
	stream func(in services.ChatInput, sink services.StreamSink) error
}

func (f *fakeChat) Send(_ context.Context, in services.ChatInput) (*services.ChatResult, error) {
	return f.send(in)
}

func (f *fakeChat) Stream(_ context.Context, in services.ChatInput, sink services.StreamSink) error {
	return f.stream(in, sink)
}

type fakeRelay struct{ connections int }

func (f *fakeRelay) PublishMessage(string, domain.RelayMessage) {}
func (f *fakeRelay) ConnectionCount() int                       { return f.connections }

// ============================================================================
// Fixture
// ============================================================================

const testSecret = "whsec"

type testServer struct {
	e        *echo.Echo
	queue    *MockQueue
	chat     *fakeChat
	verifier *auth.JWTVerifier
	checks   map[string]CheckFunc
	pause    *services.AssistantPause
}

func newTestServer(t *testing.T, development bool) *testServer {
	t.Helper()
	ts := &testServer{
		queue:    &MockQueue{},
		chat:     &fakeChat{},
		verifier: auth.NewJWTVerifier("jwt-secret"),
		checks:   map[string]CheckFunc{},
		pause:    services.NewAssistantPause(zerolog.Nop()),
	}
	log := zerolog.Nop()
	ts.e = NewRouter(RouterConfig{
		Webhooks:  NewWebhookHandler(ts.queue, testSecret, development, log),
		Chat:      NewChatHandler(ts.chat, log),
		Dashboard: NewDashboardHandler(DashboardConfig{Version: "test"}, ts.queue, &fakeRelay{connections: 3}, ts.checks, log),
		Assistant: NewAssistantHandler(ts.pause),
		Tokens:    ts.verifier,
		Relay:     http.NotFoundHandler(),
	}, log)
	t.Cleanup(func() { ts.queue.AssertExpectations(t) })
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	token, err := ts.verifier.Issue(1, "admin", time.Hour)
	require.NoError(t, err)
	return token
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

// envelope decodes the {code,msg,data} response body
func envelope(t *testing.T, rec *httptest.ResponseRecorder) (int, string, json.RawMessage) {
	t.Helper()
	var body struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code, body.Msg, body.Data
}
