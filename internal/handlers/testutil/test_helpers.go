package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/api"
	"github.com/charlesng35/hearth/internal/app"
	sharedtestutil "github.com/charlesng35/hearth/internal/database/testutil"
	"github.com/charlesng35/hearth/internal/middleware"
	"github.com/charlesng35/hearth/pkg/mail"
	"github.com/charlesng35/hearth/pkg/response"
)

const baseURL = "https://hearth.test"

var tokenPattern = regexp.MustCompile(`token=(\S+)`)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	Config   *app.Config
	Services *app.Services
	Router   *gin.Engine
	Mailbox  *Mailbox
}

// Mailbox records every message sent through the test mailer.
type Mailbox struct {
	mu       sync.Mutex
	messages []mail.Message
}

// Send implements mail.Mailer.
func (m *Mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *Mailbox) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

// EnvOption adjusts the configuration before services are built.
type EnvOption func(*app.Config)

// WithRateLimit enables rate limiting of the public auth routes.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.RateLimit = app.RateLimitSettings{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{}
	cfg.Auth.JWT = app.JWTSettings{Issuer: "test-suite", TTL: time.Hour}
	cfg.Auth.Hashing = app.HashingSettings{Time: 1, MemoryKiB: 64, Threads: 1}
	cfg.Email.BaseURL = baseURL
	for _, opt := range opts {
		opt(cfg)
	}

	_, err := app.ApplyRuntimeDefaults(context.Background(), cfg, db)
	require.NoError(t, err)

	mailbox := &Mailbox{}
	svc, err := app.NewServices(cfg, db, mailbox)
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, svc, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:        t,
		Config:   cfg,
		Services: svc,
		Router:   router,
		Mailbox:  mailbox,
	}
}

// TokenPair mirrors the token payload returned by sign-in and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// AccountPayload captures the public account fields.
type AccountPayload struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	DisplayName   string  `json:"display_name"`
	EmailVerified bool    `json:"email_verified"`
	TwoFactor     string  `json:"two_factor"`
	IsAdmin       bool    `json:"is_admin"`
	FamilyID      *string `json:"family_id"`
}

// SignInResult bundles the JSON response from POST /api/auth/signin.
type SignInResult struct {
	Tokens  TokenPair      `json:"tokens"`
	Account AccountPayload `json:"account"`
}

// SignUp registers an account through the API and returns its payload.
func (e *Env) SignUp(email, password string) AccountPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var account AccountPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &account)
	return account
}

// SignIn authenticates through the API and returns the issued tokens.
func (e *Env) SignIn(email, password string) SignInResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result SignInResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	require.Greater(e.T, result.Tokens.ExpiresIn, 0)
	return result
}

// LastToken waits for pending deliveries and returns the token carried by the
// latest email to recipient whose subject contains subject.
func (e *Env) LastToken(recipient, subject string) string {
	e.T.Helper()
	e.Services.Dispatcher.Wait()

	messages := e.Mailbox.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if len(msg.To) == 0 || msg.To[0] != recipient || !strings.Contains(msg.Subject, subject) {
			continue
		}
		match := tokenPattern.FindStringSubmatch(msg.Body)
		require.Len(e.T, match, 2, msg.Body)
		token, err := url.QueryUnescape(match[1])
		require.NoError(e.T, err)
		return token
	}
	e.T.Fatalf("no %q email sent to %s", subject, recipient)
	return ""
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// ErrorCode returns the error code of a failed response.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success, w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
