package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/sessions/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/sessions/:id", "204")))
}

func TestMiddlewareRecordsErrorStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/api/override/:sessionId", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad status")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/override/x", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/api/override/:sessionId", "400")))
}

func TestDomainCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.OverridesTotal.WithLabelValues("CONCERN").Inc()
	m.PMLogsTotal.WithLabelValues("issue").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverridesTotal.WithLabelValues("CONCERN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PMLogsTotal.WithLabelValues("issue")))
}
