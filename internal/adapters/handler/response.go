// Package handler implements the HTTP adapters.
// Every JSON response uses the {code, msg, data} envelope the storefront widget expects.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Envelope codes
const (
	CodeOK    = 0
	CodeError = 1
)

// APIResponse represents the standard response envelope
type APIResponse struct {
	Code int    `json:"code"`          // 0 success, 1 failure
	Msg  string `json:"msg,omitempty"` // Human-readable message
	Data any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(msg string, data any) APIResponse {
	return APIResponse{Code: CodeOK, Msg: msg, Data: data}
}

// NewErrorResponse creates an error response
func NewErrorResponse(msg string) APIResponse {
	return APIResponse{Code: CodeError, Msg: msg}
}

func ok(c echo.Context, msg string, data any) error {
	return c.JSON(http.StatusOK, NewSuccessResponse(msg, data))
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, NewErrorResponse(msg))
}

// ErrorHandler renders errors escaping handlers in the standard envelope.
// Details of non-HTTP errors are logged, never returned.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "Internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, isString := he.Message.(string); isString {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("request failed")
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = fail(c, status, msg)
	}
	if writeErr != nil {
		log.Error().Err(writeErr).Msg("failed to write error response")
	}
}
