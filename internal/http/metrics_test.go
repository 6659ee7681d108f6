package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)
	m := NewHTTPMetrics(zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "no")
	})

	for _, path := range []string{"/api/v1/sessions/a", "/api/v1/sessions/b", "/boom", "/nowhere"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, int64(2), tel.CounterValue(t, "taskmaster.http.requests_total",
		attribute.String("endpoint", "/api/v1/sessions/:id"),
		attribute.Int("status", http.StatusOK),
	))
	assert.Equal(t, int64(1), tel.CounterValue(t, "taskmaster.http.requests_total",
		attribute.String("endpoint", "/boom"),
		attribute.Int("status", http.StatusTeapot),
	))
	assert.Equal(t, int64(4), tel.CounterValue(t, "taskmaster.http.requests_total"))
}

func TestHTTPMetrics_NilInstruments(t *testing.T) {
	m := &HTTPMetrics{logger: zap.NewNop()}

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/sessions/:id", normalizePath("/api/v1/sessions/:id"))
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "unmatched", normalizePath("/*"))
}
