package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/handlers/testutil"
)

type enrollmentPayload struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode []byte `json:"qr_code"`
}

func TestTwoFactorHandler_Lifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("grace@example.com", "correct horse")
	login := env.SignIn("grace@example.com", "correct horse")
	access := login.Tokens.AccessToken

	begin := env.Request(http.MethodPost, "/api/auth/2fa/begin", nil, access)
	require.Equal(t, http.StatusOK, begin.Code, begin.Body.String())
	var enrollment enrollmentPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, begin).Data, &enrollment)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URI, "otpauth://totp/")
	require.NotEmpty(t, enrollment.QRCode)

	bad := env.Request(http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"code": "abc"}, access)
	require.Equal(t, http.StatusBadRequest, bad.Code)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	confirm := env.Request(http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"code": code}, access)
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())

	again := env.Request(http.MethodPost, "/api/auth/2fa/begin", nil, access)
	require.Equal(t, http.StatusConflict, again.Code)

	noCode := env.Request(http.MethodPost, "/api/auth/signin", map[string]string{"email": "grace@example.com", "password": "correct horse"}, "")
	require.Equal(t, http.StatusUnauthorized, noCode.Code)
	require.Equal(t, "auth.two_factor_required", testutil.ErrorCode(t, noCode))

	withCode := env.Request(http.MethodPost, "/api/auth/signin", map[string]string{
		"email":     "grace@example.com",
		"password":  "correct horse",
		"totp_code": code,
	}, "")
	require.Equal(t, http.StatusOK, withCode.Code, withCode.Body.String())

	missingCode := env.Request(http.MethodPost, "/api/auth/2fa/disable", map[string]string{}, access)
	require.Equal(t, http.StatusUnauthorized, missingCode.Code)
	require.Equal(t, "auth.two_factor_required", testutil.ErrorCode(t, missingCode))

	wrongDisable := env.Request(http.MethodPost, "/api/auth/2fa/disable", map[string]string{"code": "000000"}, access)
	if code != "000000" {
		require.Equal(t, http.StatusUnauthorized, wrongDisable.Code)
	}

	disable := env.Request(http.MethodPost, "/api/auth/2fa/disable", map[string]string{"code": code}, access)
	require.Equal(t, http.StatusOK, disable.Code, disable.Body.String())

	env.SignIn("grace@example.com", "correct horse")
}

func TestTwoFactorHandler_ConfirmWithoutEnrollment(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("heidi@example.com", "correct horse")
	login := env.SignIn("heidi@example.com", "correct horse")

	resp := env.Request(http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"code": "123456"}, login.Tokens.AccessToken)
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, "auth.two_factor_not_pending", testutil.ErrorCode(t, resp))
}

func TestTwoFactorHandler_DisableAbandonsPendingEnrollment(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("ivan@example.com", "correct horse")
	login := env.SignIn("ivan@example.com", "correct horse")
	access := login.Tokens.AccessToken

	begin := env.Request(http.MethodPost, "/api/auth/2fa/begin", nil, access)
	require.Equal(t, http.StatusOK, begin.Code, begin.Body.String())
	var enrollment enrollmentPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, begin).Data, &enrollment)

	disable := env.Request(http.MethodPost, "/api/auth/2fa/disable", map[string]string{}, access)
	require.Equal(t, http.StatusOK, disable.Code, disable.Body.String())

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	confirm := env.Request(http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"code": code}, access)
	require.Equal(t, http.StatusConflict, confirm.Code)
	require.Equal(t, "auth.two_factor_not_pending", testutil.ErrorCode(t, confirm))

	idle := env.Request(http.MethodPost, "/api/auth/2fa/disable", map[string]string{}, access)
	require.Equal(t, http.StatusOK, idle.Code, idle.Body.String())
}
