package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/hearth/internal/auth"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/internal/services"
	"github.com/charlesng35/hearth/pkg/errors"
	"github.com/charlesng35/hearth/pkg/response"
)

// AuthHandler exposes sign-up, sign-in, token refresh and the email token flows.
type AuthHandler struct {
	accounts *services.AccountService
	refresh  *iauth.RefreshService
}

func NewAuthHandler(accounts *services.AccountService, refresh *iauth.RefreshService) *AuthHandler {
	return &AuthHandler{accounts: accounts, refresh: refresh}
}

type signUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// accountPayload is the public view of an account.
func accountPayload(a *models.Account) gin.H {
	return gin.H{
		"id":             a.ID,
		"email":          a.Email,
		"display_name":   a.DisplayName,
		"email_verified": a.EmailVerified,
		"two_factor":     a.TwoFactorState(),
		"is_admin":       a.IsAdmin,
		"family_id":      a.FamilyID,
		"last_login_at":  a.LastLoginAt,
		"created_at":     a.CreatedAt,
	}
}

// POST /api/auth/signup
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.SignUp(requestContext(c), services.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: strings.TrimSpace(req.DisplayName),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusCreated, accountPayload(account))
}

// POST /api/auth/signin
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.SignIn(requestContext(c), services.SignInInput{
		Email:    req.Email,
		Password: req.Password,
		TOTPCode: strings.TrimSpace(req.TOTPCode),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens":  result.Tokens,
		"account": accountPayload(result.Account),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, err := h.refresh.Rotate(requestContext(c), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := h.refresh.Revoke(requestContext(c), id); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/auth/password/forgot
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.accounts.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	// Same answer whether or not the address is registered.
	response.Success(c, http.StatusAccepted, gin.H{"requested": true})
}

// POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.accounts.ResetPassword(requestContext(c), strings.TrimSpace(req.Token), req.Password); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// POST /api/auth/email/verify
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	account, err := h.accounts.VerifyEmail(requestContext(c), strings.TrimSpace(req.Token))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, accountPayload(account))
}

// POST /api/auth/email/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := h.accounts.ResendVerification(requestContext(c), id); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"requested": true})
}
