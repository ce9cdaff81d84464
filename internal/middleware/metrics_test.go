package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/pkg/metrics"
)

func latencySamples(t *testing.T, method, route, status string) uint64 {
	t.Helper()
	observer, err := metrics.APILatency.GetMetricWithLabelValues(method, route, status)
	require.NoError(t, err)
	var sample dto.Metric
	require.NoError(t, observer.(prometheus.Metric).Write(&sample))
	return sample.GetHistogram().GetSampleCount()
}

func TestMetricsMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/account/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := latencySamples(t, http.MethodGet, "/api/account/:id", "204")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/account/42", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Equal(t, before+1, latencySamples(t, http.MethodGet, "/api/account/:id", "204"))
}

func TestMetricsMiddlewareCollapsesUnknownPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	before := latencySamples(t, http.MethodGet, unmatchedRoute, "404")
	for _, path := range []string{"/wp-login.php", "/reset/abcdef0123456789"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	require.Equal(t, before+2, latencySamples(t, http.MethodGet, unmatchedRoute, "404"))
}
