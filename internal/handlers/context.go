package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/middleware"
	"github.com/charlesng35/hearth/pkg/errors"
	"github.com/charlesng35/hearth/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// accountID returns the authenticated account, writing a 401 when absent.
func accountID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.CtxAccountIDKey)
	if id == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return id, true
}
