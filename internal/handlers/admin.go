package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/services"
	"github.com/charlesng35/hearth/pkg/response"
)

// AdminHandler groups operator-only endpoints.
type AdminHandler struct {
	accounts *services.AccountService
}

func NewAdminHandler(accounts *services.AccountService) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

type experimentalPasswordRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/admin/experimental-password
func (h *AdminHandler) SetExperimentalPassword(c *gin.Context) {
	actor, ok := accountID(c)
	if !ok {
		return
	}
	var req experimentalPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.SetExperimentalPassword(requestContext(c), actor, req.Email, req.Password); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"set": true})
}
