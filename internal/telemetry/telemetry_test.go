package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"shop-assist/internal/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, enabled, err := Init(context.Background(), config.TelemetryConfig{Enabled: false, Endpoint: "localhost:4318"}, "test")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.NoError(t, shutdown(context.Background()))

	_, enabled, err = Init(context.Background(), config.TelemetryConfig{Enabled: true}, "test")
	require.NoError(t, err)
	assert.False(t, enabled, "no endpoint means disabled")
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/items/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream down")
	})

	for _, path := range []string{"/api/items/7", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET /api/items/:id", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", http.StatusNoContent))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "GET /boom", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.Int("http.status_code", http.StatusBadGateway))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
