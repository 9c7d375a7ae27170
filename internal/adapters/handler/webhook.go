package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-EverShop-Signature"

// WebhookQueue is the part of the job queue the HTTP layer drives
type WebhookQueue interface {
	Enqueue(ctx context.Context, t domain.JobType, event domain.WebhookEvent) (*domain.WebhookJob, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Failed(ctx context.Context, limit int) ([]*domain.WebhookJob, error)
	Retry(ctx context.Context, jobID string) (*domain.WebhookJob, error)
}

// WebhookHandler handles storefront webhook ingest and queue operations.
// Ingest only validates and enqueues; processing happens on the queue workers.
type WebhookHandler struct {
	queue       WebhookQueue
	secret      string // HMAC key shared with the storefront
	development bool   // allows unsigned requests and the test endpoint
	log         zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(queue WebhookQueue, secret string, development bool, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:       queue,
		secret:      secret,
		development: development,
		log:         log.With().Str("component", "webhooks").Logger(),
	}
}

// ============================================================================
// POST /api/webhooks/evershop/{product|order|customer}
// ============================================================================

// Receive returns the ingest handler for one job type
func (h *WebhookHandler) Receive(t domain.JobType) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			h.log.Warn().Err(err).Msg("failed to read webhook body")
			return fail(c, http.StatusBadRequest, "Failed to read request body")
		}

		if status, msg := h.checkSignature(c.Request().Header.Get(SignatureHeader), body); status != 0 {
			return fail(c, status, msg)
		}

		var event domain.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fail(c, http.StatusBadRequest, "Invalid JSON payload")
		}
		if strings.TrimSpace(event.Event) == "" || isEmptyJSON(event.Data) {
			return fail(c, http.StatusBadRequest, "Missing event or data in webhook payload")
		}

		job, err := h.queue.Enqueue(c.Request().Context(), t, event)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidPayload) {
				h.log.Warn().Err(err).Str("type", string(t)).Str("event", event.Event).Msg("rejected webhook payload")
				return fail(c, http.StatusBadRequest, err.Error())
			}
			h.log.Error().Err(err).Str("type", string(t)).Str("event", event.Event).Msg("failed to queue webhook")
			return fail(c, http.StatusInternalServerError, "Failed to process webhook")
		}

		h.log.Info().
			Str("type", string(t)).
			Str("event", event.Event).
			Str("job_id", job.ID).
			Str("timestamp", event.Timestamp).
			Msg("webhook received")

		return ok(c, "Webhook received and queued", map[string]any{
			"event":  event.Event,
			"queued": true,
		})
	}
}

// checkSignature returns a non-zero status and message when the request must be rejected.
func (h *WebhookHandler) checkSignature(signature string, body []byte) (int, string) {
	if signature == "" {
		if h.development {
			h.log.Warn().Msg("webhook signature validation skipped (development mode)")
			return 0, ""
		}
		h.log.Warn().Msg("webhook signature missing")
		return http.StatusUnauthorized, "Missing webhook signature"
	}
	if h.secret == "" {
		h.log.Error().Msg("EVERSHOP_WEBHOOK_SECRET not configured")
		return http.StatusInternalServerError, "Webhook secret not configured"
	}
	if !ValidateSignature(h.secret, body, signature) {
		h.log.Warn().Msg("webhook signature mismatch")
		return http.StatusUnauthorized, "Invalid webhook signature"
	}
	return 0, ""
}

// ============================================================================
// HMAC Signature Validation
// ============================================================================

// Sign returns the hex HMAC-SHA256 of payload under secret
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature compares the signature header against the computed HMAC.
// A "sha256=" prefix is tolerated. Comparison is constant-time.
func ValidateSignature(secret string, payload []byte, signatureHeader string) bool {
	expected := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256="))
	computed := Sign(secret, payload)
	return hmac.Equal([]byte(computed), []byte(expected))
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""` || s == "false" || s == "0"
}

// ============================================================================
// Queue observability & operations
// ============================================================================

// Stats returns queue counts
// GET /api/webhooks/stats
func (h *WebhookHandler) Stats(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get webhook stats")
		return fail(c, http.StatusInternalServerError, "Failed to get stats")
	}
	return ok(c, "success", stats)
}

// TestWebhookRequest is the body of the development test endpoint
type TestWebhookRequest struct {
	Type  string          `json:"type" validate:"required"`
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data" validate:"required"`
}

// Test enqueues an unsigned webhook; it does not exist outside development.
// POST /api/webhooks/test
func (h *WebhookHandler) Test(c echo.Context) error {
	if !h.development {
		return fail(c, http.StatusNotFound, "Not found")
	}

	var req TestWebhookRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid JSON payload")
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Missing type, event, or data")
	}
	t, err := domain.ParseJobType(req.Type)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	if _, err := h.queue.Enqueue(c.Request().Context(), t, domain.WebhookEvent{Event: req.Event, Data: req.Data}); err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			return fail(c, http.StatusBadRequest, err.Error())
		}
		h.log.Error().Err(err).Msg("failed to queue test webhook")
		return fail(c, http.StatusInternalServerError, "Failed to queue test webhook")
	}
	return ok(c, "Test webhook queued successfully", map[string]any{
		"type":  t,
		"event": req.Event,
	})
}

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
)

// Failed lists terminally failed jobs
// GET /api/webhooks/failed?limit=N
func (h *WebhookHandler) Failed(c echo.Context) error {
	limit := defaultFailedLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fail(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxFailedLimit)
	}

	jobs, err := h.queue.Failed(c.Request().Context(), limit)
	if err != nil {
		return h.queueError(c, err, "Failed to list failed jobs")
	}
	if jobs == nil {
		jobs = []*domain.WebhookJob{}
	}
	return ok(c, "success", jobs)
}

// Retry moves a failed job back to waiting
// POST /api/webhooks/failed/:id/retry
func (h *WebhookHandler) Retry(c echo.Context) error {
	job, err := h.queue.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.queueError(c, err, "Failed to retry job")
	}
	return ok(c, "Job requeued", job)
}

func (h *WebhookHandler) queueError(c echo.Context, err error, msg string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fail(c, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrQueueUnavailable):
		return fail(c, http.StatusServiceUnavailable, "Queue runs inline; no failed jobs are retained")
	}
	h.log.Error().Err(err).Msg(msg)
	return fail(c, http.StatusInternalServerError, msg)
}
