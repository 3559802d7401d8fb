package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/notify"
	"github.com/authgate/authgate/pkg/crypto"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/metrics"
)

const resetTokenCreateAttempts = 3

// ResetOption customises the PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetExpiry overrides the token lifetime.
func WithResetExpiry(d time.Duration) ResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) ResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService governs the credential-recovery ledger: at most one
// live token per account, consumed exactly once. A used or expired token is
// permanently invalid.
type PasswordResetService struct {
	db       *gorm.DB
	notifier notify.Notifier
	audit    *AuditService
	expiry   time.Duration
	now      func() time.Time
	locks    *keyedMutex
	log      *zap.Logger
}

// NewPasswordResetService constructs the service with the provided dependencies.
func NewPasswordResetService(db *gorm.DB, notifier notify.Notifier, audit *AuditService, opts ...ResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	if notifier == nil {
		return nil, errors.New("password reset service: notifier is required")
	}

	service := &PasswordResetService{
		db:       db,
		notifier: notifier,
		audit:    audit,
		expiry:   defaultCodeExpiry,
		now:      time.Now,
		locks:    newKeyedMutex(),
		log:      logger.WithModule("password_reset"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Request creates a reset token for the account behind email and dispatches
// it. Unknown emails report success without mutating anything, so the
// response carries no enumeration signal. Any prior live token is superseded,
// and a notification failure rolls the new token back: a token never exists
// without its owner having been notified.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Info("reset requested for unknown email", zap.String("email", email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset service: load user: %w", err)
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).
			Delete(&models.PasswordResetToken{}).Error; err != nil {
			return fmt.Errorf("password reset service: supersede token: %w", err)
		}

		record, err := s.createToken(tx, user.ID)
		if err != nil {
			return err
		}

		return s.notifier.SendPasswordResetCode(ctx, user.Email, record.Token)
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: "password.reset_request",
		Result: "success",
	})
	s.log.Info("password reset token issued", zap.String("user_id", user.ID))
	return nil
}

// createToken inserts a fresh token row, retrying on the unlikely collision
// of the uniquely indexed numeric code.
func (s *PasswordResetService) createToken(tx *gorm.DB, userID string) (*models.PasswordResetToken, error) {
	for attempt := 0; attempt < resetTokenCreateAttempts; attempt++ {
		code, err := crypto.GenerateNumericCode(codeDigits)
		if err != nil {
			return nil, fmt.Errorf("password reset service: generate token: %w", err)
		}

		record := models.PasswordResetToken{
			UserID:    userID,
			Token:     code,
			ExpiresAt: s.now().Add(s.expiry),
		}
		err = tx.Create(&record).Error
		if err == nil {
			return &record, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("password reset service: create token: %w", err)
		}
	}
	return nil, errors.New("password reset service: token space exhausted")
}

// Validate reports whether code identifies a live token. Pure check, no
// mutation; absent, used, and expired collapse to the same error.
func (s *PasswordResetService) Validate(ctx context.Context, code string) error {
	ctx = ensureContext(ctx)
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.ErrInvalidOrExpired
	}

	var record models.PasswordResetToken
	err := s.db.WithContext(ctx).Where("token = ?", code).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrInvalidOrExpired
	}
	if err != nil {
		return fmt.Errorf("password reset service: find token: %w", err)
	}

	if !record.Valid(s.now()) {
		return apperrors.ErrInvalidOrExpired
	}
	return nil
}

// Reset consumes the token identified by code and stores the re-hashed
// password on the owning account. Both writes commit together; the
// used-flag update is qualified on used=false so two concurrent submissions
// cannot both succeed.
func (s *PasswordResetService) Reset(ctx context.Context, code, newPassword string) error {
	ctx = ensureContext(ctx)
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.ErrInvalidOrExpired
	}
	if strings.TrimSpace(newPassword) == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	var userID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PasswordResetToken
		if err := tx.Where("token = ?", code).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidOrExpired
			}
			return fmt.Errorf("password reset service: find token: %w", err)
		}
		if !record.Valid(s.now()) {
			return apperrors.ErrInvalidOrExpired
		}

		res := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used = ?", record.ID, false).
			Update("used", true)
		if res.Error != nil {
			return fmt.Errorf("password reset service: consume token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrInvalidOrExpired
		}

		hashed, err := crypto.HashPassword(newPassword)
		if err != nil {
			return fmt.Errorf("password reset service: hash password: %w", err)
		}

		res = tx.Model(&models.User{}).
			Where("id = ?", record.UserID).
			Update("password", hashed)
		if res.Error != nil {
			return fmt.Errorf("password reset service: update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		userID = record.UserID
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidOrExpired) {
			metrics.PasswordResets.WithLabelValues("invalid_or_expired").Inc()
		} else {
			metrics.PasswordResets.WithLabelValues("error").Inc()
		}
		return err
	}

	metrics.PasswordResets.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &userID,
		Action: "password.reset",
		Result: "success",
	})
	s.log.Info("password reset completed", zap.String("user_id", userID))
	return nil
}

// PruneDead deletes tokens that are used or past expiry. Used by the
// maintenance cleaner.
func (s *PasswordResetService) PruneDead(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).
		Where("used = ? OR expires_at <= ?", true, s.now()).
		Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("password reset service: prune dead tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
