package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/services"
	"github.com/charlesng35/hearth/pkg/response"
)

// AccountHandler serves the signed-in account and its deletion.
type AccountHandler struct {
	store    *credentials.Store
	accounts *services.AccountService
}

func NewAccountHandler(store *credentials.Store, accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{store: store, accounts: accounts}
}

// GET /api/account
func (h *AccountHandler) Me(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	account, err := h.store.FindByID(requestContext(c), id)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, accountPayload(account))
}

// DELETE /api/account/data
func (h *AccountHandler) DeleteData(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	result, err := h.accounts.DeleteAllData(requestContext(c), id)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, result)
}

// DELETE /api/account
func (h *AccountHandler) Delete(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	result, err := h.accounts.DeleteAccount(requestContext(c), id)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, result)
}
