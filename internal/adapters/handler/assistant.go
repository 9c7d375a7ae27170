package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/core/services"
)

// AssistantHandler lets operators take the AI assistant out of the chat loop
type AssistantHandler struct {
	pause *services.AssistantPause
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(pause *services.AssistantPause) *AssistantHandler {
	return &AssistantHandler{pause: pause}
}

// PauseRequest is the body of POST /api/assistant/pause
type PauseRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Status reports whether the assistant is paused
// GET /api/assistant/status
func (h *AssistantHandler) Status(c echo.Context) error {
	return ok(c, "success", h.pause.Status())
}

// Pause stops provider calls; customers receive a handoff reply instead
// POST /api/assistant/pause
func (h *AssistantHandler) Pause(c echo.Context) error {
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	h.pause.Pause(req.Reason, operatorName(c))
	return ok(c, "Assistant paused", h.pause.Status())
}

// Resume puts the assistant back in the loop
// POST /api/assistant/resume
func (h *AssistantHandler) Resume(c echo.Context) error {
	h.pause.Resume(operatorName(c))
	return ok(c, "Assistant resumed", h.pause.Status())
}

func operatorName(c echo.Context) string {
	if id := auth.IdentityFrom(c); id != nil {
		return id.UserName
	}
	return "unknown"
}
