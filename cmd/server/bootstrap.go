package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authgate/authgate/internal/api"
	"github.com/authgate/authgate/internal/app"
	"github.com/authgate/authgate/internal/app/maintenance"
	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/database"
	"github.com/authgate/authgate/internal/notify"
	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/mail"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, services, maintenance jobs, and
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	notifier, err := notify.NewMailNotifier(mailer,
		notify.WithVerificationTTL(cfg.Auth.Verification.CodeTTL),
		notify.WithResetTTL(cfg.Auth.Reset.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise notifier: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	verificationSvc, err := services.NewVerificationService(stack.DB, jwtSvc, notifier, auditSvc,
		services.WithVerificationExpiry(cfg.Auth.Verification.CodeTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	authSvc, err := services.NewAuthService(stack.DB, jwtSvc, verificationSvc, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	resetSvc, err := services.NewPasswordResetService(stack.DB, notifier, auditSvc,
		services.WithResetExpiry(cfg.Auth.Reset.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise password reset service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	var oidcSvc *iauth.OIDCService
	if cfg.OAuth.Enabled {
		oidcSvc, err = iauth.NewOIDCService(ctx, cfg.OAuth.OIDCServiceConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise oidc service: %w", err)
		}
		log.Info("oauth login enabled", zap.String("issuer", cfg.OAuth.Issuer))
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(verificationSvc, resetSvc, auditSvc,
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithCodeSchedule(cfg.Maintenance.CodeSchedule),
			maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:       cfg,
		JWT:          jwtSvc,
		OIDC:         oidcSvc,
		Auth:         authSvc,
		Verification: verificationSvc,
		Reset:        resetSvc,
		Users:        userSvc,
		Audit:        auditSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases the stack's resources in reverse dependency order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	if cfg.OAuth.Enabled {
		if strings.TrimSpace(cfg.OAuth.ClientID) == "" || strings.TrimSpace(cfg.OAuth.ClientSecret) == "" {
			return errors.New("oauth.client_id and oauth.client_secret must be configured when oauth is enabled")
		}
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.DatabaseConfigFor())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}
