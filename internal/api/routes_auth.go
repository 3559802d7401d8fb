package api

import (
	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/handlers"
)

func registerAuthRoutes(api, authenticated *gin.RouterGroup, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.Auth)
	verificationHandler := handlers.NewVerificationHandler(deps.Verification)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
	}

	if deps.OIDC != nil {
		oauthHandler := handlers.NewOAuthHandler(deps.OIDC, deps.Auth, deps.Config.Server.FrontendURL)
		auth.GET("/oauth/login", oauthHandler.Login)
		auth.GET("/oauth/callback", oauthHandler.Callback)
	}

	email := api.Group("/email")
	{
		email.POST("/verify", verificationHandler.Verify)
		email.POST("/resend", verificationHandler.Resend)
	}

	authenticated.POST("/auth/logout", authHandler.Logout)
	authenticated.GET("/auth/current", authHandler.Current)
}
