package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/handlers"
	"github.com/charlesng35/hearth/internal/middleware"
)

func registerAccountRoutes(engine *gin.Engine, handler *handlers.AccountHandler, requireAuth gin.HandlerFunc) {
	account := engine.Group("/api/account")
	account.Use(requireAuth)
	{
		account.GET("", handler.Me)
		account.DELETE("", handler.Delete)
		account.DELETE("/data", handler.DeleteData)
	}
}

func registerAdminRoutes(engine *gin.Engine, handler *handlers.AdminHandler, requireAuth gin.HandlerFunc) {
	admin := engine.Group("/api/admin")
	admin.Use(requireAuth, middleware.RequireAdmin())
	{
		admin.POST("/experimental-password", handler.SetExperimentalPassword)
	}
}
