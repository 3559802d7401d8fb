package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/pkg/crypto"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/metrics"
)

// RegisterInput captures the details required to register a new account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthOption customises the AuthService.
type AuthOption func(*AuthService)

// WithAuthClock injects a custom time source.
func WithAuthClock(clock func() time.Time) AuthOption {
	return func(s *AuthService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AuthService is the gate in front of credential issuance: it validates
// submitted passwords against stored identities, enforces the
// verified-before-login rule, and mints credential tokens on success.
type AuthService struct {
	db           *gorm.DB
	jwt          *auth.JWTService
	verification *VerificationService
	audit        *AuditService
	now          func() time.Time
	log          *zap.Logger
}

// NewAuthService constructs the gate with the provided dependencies.
func NewAuthService(db *gorm.DB, jwt *auth.JWTService, verification *VerificationService, audit *AuditService, opts ...AuthOption) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service: db is required")
	}
	if jwt == nil {
		return nil, errors.New("auth service: jwt service is required")
	}
	if verification == nil {
		return nil, errors.New("auth service: verification service is required")
	}

	service := &AuthService{
		db:           db,
		jwt:          jwt,
		verification: verification,
		audit:        audit,
		now:          time.Now,
		log:          logger.WithModule("auth"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Authenticate verifies the email/password pair and mints a credential
// token. Unknown account and wrong password are indistinguishable to the
// caller: same error, and a burned bcrypt comparison keeps the timing close.
// A correct password against an unverified account fails with NotVerified
// and issues no token.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (string, *models.User, error) {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("bad_credentials").Inc()
		return "", nil, apperrors.ErrBadCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		crypto.BurnPasswordCheck(password)
		metrics.AuthAttempts.WithLabelValues("bad_credentials").Inc()
		s.recordLoginAudit(ctx, nil, email, "bad_credentials")
		return "", nil, apperrors.ErrBadCredentials
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("auth service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		metrics.AuthAttempts.WithLabelValues("bad_credentials").Inc()
		s.recordLoginAudit(ctx, &user.ID, email, "bad_credentials")
		return "", nil, apperrors.ErrBadCredentials
	}

	if !user.Verified {
		metrics.AuthAttempts.WithLabelValues("not_verified").Inc()
		s.recordLoginAudit(ctx, &user.ID, email, "not_verified")
		return "", nil, apperrors.ErrNotVerified
	}

	token, err := s.jwt.Issue(user.ID, user.Email)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("auth service: issue token: %w", err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn("failed to record login time", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.recordLoginAudit(ctx, &user.ID, email, "success")
	s.log.Info("authentication successful", zap.String("email", email))

	return token, &user, nil
}

// Register provisions an unverified account and its verification ledger
// entry in one transaction. A notification failure rolls the whole
// registration back, so a pending code never exists unnotified.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("auth service: check email: %w", err)
	}
	if exists > 0 {
		return nil, apperrors.ErrAlreadyExists
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth service: hash password: %w", err)
	}

	user := &models.User{
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Provider:  "local",
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrAlreadyExists
			}
			return fmt.Errorf("auth service: create user: %w", err)
		}

		return s.verification.start(ctx, tx, email)
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &user.ID,
		Email:  email,
		Action: "user.register",
		Result: "success",
	})
	s.log.Info("account registered", zap.String("email", email))

	return user, nil
}

// AuthenticateExternal admits an identity asserted by the configured OAuth
// issuer. First sight provisions a verified account (the issuer vouches for
// email ownership); subsequent logins reuse it. A credential token is minted
// either way.
func (s *AuthService) AuthenticateExternal(ctx context.Context, identity *auth.ExternalIdentity) (string, *models.User, error) {
	ctx = ensureContext(ctx)
	if identity == nil || identity.Email == "" {
		return "", nil, apperrors.ErrBadCredentials
	}
	if !identity.EmailVerified {
		return "", nil, apperrors.ErrNotVerified
	}

	email := normaliseEmail(identity.Email)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// External accounts carry an unusable credential: login is only
		// possible through the issuer.
		placeholder, hashErr := crypto.GenerateToken(32)
		if hashErr != nil {
			return "", nil, fmt.Errorf("auth service: generate placeholder: %w", hashErr)
		}
		hashed, hashErr := crypto.HashPassword(placeholder)
		if hashErr != nil {
			return "", nil, fmt.Errorf("auth service: hash placeholder: %w", hashErr)
		}

		user = models.User{
			Email:     email,
			Password:  hashed,
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
			Avatar:    identity.Avatar,
			Verified:  true,
			Provider:  "oidc",
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return "", nil, apperrors.ErrAlreadyExists
			}
			return "", nil, fmt.Errorf("auth service: create external user: %w", err)
		}
	case err != nil:
		return "", nil, fmt.Errorf("auth service: load user: %w", err)
	}

	token, err := s.jwt.Issue(user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("auth service: issue token: %w", err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn("failed to record login time", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.recordLoginAudit(ctx, &user.ID, email, "success")

	return token, &user, nil
}

func (s *AuthService) recordLoginAudit(ctx context.Context, userID *string, email, result string) {
	recordAudit(s.audit, ctx, AuditEntry{
		UserID: userID,
		Email:  email,
		Action: "user.login",
		Result: result,
	})
}
