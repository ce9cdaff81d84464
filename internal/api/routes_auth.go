package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/handlers"
)

type authRouteDeps struct {
	Auth        *handlers.AuthHandler
	TwoFactor   *handlers.TwoFactorHandler
	RateLimit   gin.HandlerFunc
	RequireAuth gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	public := engine.Group("/api/auth")
	public.Use(deps.RateLimit)
	{
		public.POST("/signup", deps.Auth.SignUp)
		public.POST("/signin", deps.Auth.SignIn)
		public.POST("/refresh", deps.Auth.Refresh)
		public.POST("/password/forgot", deps.Auth.ForgotPassword)
		public.POST("/password/reset", deps.Auth.ResetPassword)
		public.POST("/email/verify", deps.Auth.VerifyEmail)
	}

	private := engine.Group("/api/auth")
	private.Use(deps.RequireAuth)
	{
		private.POST("/logout", deps.Auth.Logout)
		private.POST("/email/resend", deps.Auth.ResendVerification)
		private.POST("/2fa/begin", deps.TwoFactor.Begin)
		private.POST("/2fa/confirm", deps.TwoFactor.Confirm)
		private.POST("/2fa/disable", deps.TwoFactor.Disable)
	}
}
