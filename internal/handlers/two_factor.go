package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/auth/mfa"
	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/pkg/errors"
	"github.com/charlesng35/hearth/pkg/response"
)

// TwoFactorHandler drives TOTP enrollment for the signed-in account.
type TwoFactorHandler struct {
	store *credentials.Store
	totp  *mfa.TOTPService
}

func NewTwoFactorHandler(store *credentials.Store, totp *mfa.TOTPService) *TwoFactorHandler {
	return &TwoFactorHandler{store: store, totp: totp}
}

type twoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,otp"`
}

type twoFactorDisableRequest struct {
	Code string `json:"code" validate:"omitempty,otp"`
}

// POST /api/auth/2fa/begin
func (h *TwoFactorHandler) Begin(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	enrollment, err := h.totp.BeginEnrollment(requestContext(c), id)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"secret":  enrollment.Secret,
		"uri":     enrollment.URI,
		"qr_code": enrollment.QRCode,
	})
}

// POST /api/auth/2fa/confirm
func (h *TwoFactorHandler) Confirm(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req twoFactorCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	confirmed, err := h.totp.ConfirmEnrollment(requestContext(c), id, strings.TrimSpace(req.Code))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	if !confirmed {
		response.Error(c, errors.ErrInvalidTwoFactorCode)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": true})
}

// POST /api/auth/2fa/disable clears any pending or active secret. Once two-factor
// is active a current code is demanded so a leaked access token alone cannot
// strip the second factor.
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req twoFactorDisableRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	account, err := h.store.FindByID(ctx, id)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	if account.TOTPEnabled {
		code := strings.TrimSpace(req.Code)
		if code == "" {
			response.Error(c, errors.ErrTwoFactorRequired)
			return
		}
		valid, err := h.totp.ValidateCode(account, code)
		if err != nil {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			return
		}
		if !valid {
			response.Error(c, errors.ErrInvalidTwoFactorCode)
			return
		}
	}

	if err := h.totp.Disable(ctx, id); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": false})
}
