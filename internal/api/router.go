package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/app"
	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/middleware"
	"github.com/authgate/authgate/internal/services"
)

// Dependencies carries the wired services the router mounts handlers on.
// OIDC is optional; when nil the OAuth routes are not registered.
type Dependencies struct {
	Config       *app.Config
	JWT          *iauth.JWTService
	OIDC         *iauth.OIDCService
	Auth         *services.AuthService
	Verification *services.VerificationService
	Reset        *services.PasswordResetService
	Users        *services.UserService
	Audit        *services.AuditService
}

func (d Dependencies) validate() error {
	if d.Config == nil {
		return fmt.Errorf("config must be provided")
	}
	if d.JWT == nil {
		return fmt.Errorf("jwt service must be provided")
	}
	if d.Auth == nil {
		return fmt.Errorf("auth service must be provided")
	}
	if d.Verification == nil {
		return fmt.Errorf("verification service must be provided")
	}
	if d.Reset == nil {
		return fmt.Errorf("password reset service must be provided")
	}
	if d.Users == nil {
		return fmt.Errorf("user service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.RequestMetadata())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	r.NoRoute(middleware.NotFoundHandler)

	registerMonitoringRoutes(r, cfg)

	requireAuth := middleware.Auth(deps.JWT, deps.Users)

	api := r.Group("/api")
	authenticated := r.Group("/api")
	authenticated.Use(requireAuth)

	registerAuthRoutes(api, authenticated, deps)
	registerUserRoutes(api, authenticated, deps)

	return r, nil
}
