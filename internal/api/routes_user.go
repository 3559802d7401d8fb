package api

import (
	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/handlers"
)

func registerUserRoutes(api, authenticated *gin.RouterGroup, deps Dependencies) {
	resetHandler := handlers.NewPasswordResetHandler(deps.Reset)
	userHandler := handlers.NewUserHandler(deps.Users)

	// Recovery endpoints stay public: the caller has lost their credentials.
	password := api.Group("/user/password")
	{
		password.POST("/forgot", resetHandler.Forgot)
		password.POST("/validate-code", resetHandler.ValidateCode)
		password.POST("/reset", resetHandler.Reset)
	}

	authenticated.GET("/user/profile", userHandler.Profile)
	authenticated.PUT("/user/profile", userHandler.UpdateProfile)

	if deps.Audit != nil {
		auditHandler := handlers.NewAuditHandler(deps.Audit)
		authenticated.GET("/audit", auditHandler.List)
	}
}
