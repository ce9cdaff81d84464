package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/api"
	"github.com/charlesng35/hearth/internal/app"
	"github.com/charlesng35/hearth/internal/handlers/testutil"
)

func TestNewRouter_RequiresDependencies(t *testing.T) {
	_, err := api.NewRouter(nil, &app.Services{}, nil)
	require.Error(t, err)

	_, err = api.NewRouter(&app.Config{}, nil, nil)
	require.Error(t, err)

	_, err = api.NewRouter(&app.Config{}, &app.Services{}, nil)
	require.Error(t, err)
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	cfg := *env.Config
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/internal/metrics"
	router, err := api.NewRouter(&cfg, env.Services, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNewRouter_SecurityHeaders(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
}
