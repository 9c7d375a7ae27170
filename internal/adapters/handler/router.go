package handler

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
	"shop-assist/internal/telemetry"
)

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates the echo request validator
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements echo.Validator interface
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// RouterConfig collects everything the HTTP surface is built from
type RouterConfig struct {
	CORSOrigins []string
	BodyLimit   string // echo size string, e.g. "1M"

	Webhooks  *WebhookHandler
	Chat      *ChatHandler
	Dashboard *DashboardHandler
	Assistant *AssistantHandler
	Tokens    ports.TokenVerifier
	Relay     http.Handler // websocket upgrade endpoint
}

// NewRouter wires middleware and routes
func NewRouter(cfg RouterConfig, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler

	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, SignatureHeader, "X-Session-ID",
		},
	}))
	e.Use(echomiddleware.BodyLimit(cfg.BodyLimit))
	e.Use(telemetry.Middleware())
	e.Use(requestLogger(log))

	// Infrastructure
	e.GET("/health", cfg.Dashboard.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", echo.WrapHandler(cfg.Relay))

	api := e.Group("/api")

	// Storefront webhooks (HMAC-signed)
	wh := api.Group("/webhooks")
	wh.POST("/evershop/product", cfg.Webhooks.Receive(domain.JobTypeProduct))
	wh.POST("/evershop/order", cfg.Webhooks.Receive(domain.JobTypeOrder))
	wh.POST("/evershop/customer", cfg.Webhooks.Receive(domain.JobTypeCustomer))
	wh.GET("/stats", cfg.Webhooks.Stats)
	wh.POST("/test", cfg.Webhooks.Test)

	// Operator endpoints
	admin := auth.Middleware(cfg.Tokens)
	wh.GET("/failed", cfg.Webhooks.Failed, admin)
	wh.POST("/failed/:id/retry", cfg.Webhooks.Retry, admin)
	api.GET("/system/metrics", cfg.Dashboard.GetSystemMetrics, admin)

	assistant := api.Group("/assistant", admin)
	assistant.GET("/status", cfg.Assistant.Status)
	assistant.POST("/pause", cfg.Assistant.Pause)
	assistant.POST("/resume", cfg.Assistant.Resume)

	// Storefront chat (public)
	coze := api.Group("/coze")
	coze.POST("/chat", cfg.Chat.Send)
	coze.POST("/chat/stream", cfg.Chat.Stream)

	return e
}

// requestLogger logs one line per request through zerolog
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	httpLog := log.With().Str("component", "http").Logger()
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/metrics" || strings.HasPrefix(p, "/ws")
		},
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := httpLog.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = httpLog.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
