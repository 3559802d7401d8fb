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
	"github.com/authgate/authgate/internal/notify"
	"github.com/authgate/authgate/pkg/crypto"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/metrics"
)

const (
	defaultCodeExpiry = 15 * time.Minute
	codeDigits        = 6
)

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationExpiry overrides the code lifetime.
func WithVerificationExpiry(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService governs the email-confirmation ledger: one pending
// code per email, regenerated in place on resend, consumed exactly once on
// successful submission. The account's verified flag is the durable record;
// the ledger entry is deleted when it flips.
type VerificationService struct {
	db       *gorm.DB
	jwt      *auth.JWTService
	notifier notify.Notifier
	audit    *AuditService
	expiry   time.Duration
	now      func() time.Time
	locks    *keyedMutex
	log      *zap.Logger
}

// NewVerificationService constructs the service with the provided dependencies.
func NewVerificationService(db *gorm.DB, jwt *auth.JWTService, notifier notify.Notifier, audit *AuditService, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if jwt == nil {
		return nil, errors.New("verification service: jwt service is required")
	}
	if notifier == nil {
		return nil, errors.New("verification service: notifier is required")
	}

	service := &VerificationService{
		db:       db,
		jwt:      jwt,
		notifier: notifier,
		audit:    audit,
		expiry:   defaultCodeExpiry,
		now:      time.Now,
		locks:    newKeyedMutex(),
		log:      logger.WithModule("verification"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// start issues the pending code for email inside the supplied transaction
// and dispatches it. An existing ledger row is regenerated in place, keeping
// at most one live code per email. Any error rolls the caller's transaction
// back, so a code never exists without its owner having been notified.
func (s *VerificationService) start(ctx context.Context, tx *gorm.DB, email string) error {
	code, err := crypto.GenerateNumericCode(codeDigits)
	if err != nil {
		return fmt.Errorf("verification service: generate code: %w", err)
	}
	expiresAt := s.now().Add(s.expiry)

	var record models.VerificationCode
	err = tx.Where("email = ?", email).Take(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.VerificationCode{
			Email:     email,
			Code:      code,
			ExpiresAt: expiresAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("verification service: create code: %w", err)
		}
	case err != nil:
		return fmt.Errorf("verification service: load code: %w", err)
	default:
		if err := tx.Model(&record).Updates(map[string]any{
			"code":       code,
			"expires_at": expiresAt,
		}).Error; err != nil {
			return fmt.Errorf("verification service: regenerate code: %w", err)
		}
	}

	return s.notifier.SendVerificationCode(ctx, email, code)
}

// Request issues a verification code for email outside of registration. The
// account must exist and still be unverified. A pending code is regenerated
// in place rather than duplicated.
func (s *VerificationService) Request(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("email = ?", email).Take(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("verification service: load user: %w", err)
		}
		if user.Verified {
			return apperrors.ErrAlreadyVerified
		}
		return s.start(ctx, tx, email)
	})
	if err != nil {
		return err
	}

	s.log.Info("verification code issued", zap.String("email", email))
	return nil
}

// Resend regenerates the pending code for email in place: same ledger row,
// new code, fresh expiry. It fails with AlreadyVerified when the account no
// longer needs confirmation and NotFound when no code is pending.
func (s *VerificationService) Resend(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("email = ?", email).Take(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("verification service: load user: %w", err)
		}
		if user.Verified {
			return apperrors.ErrAlreadyVerified
		}

		var record models.VerificationCode
		if err := tx.Where("email = ?", email).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("verification service: load code: %w", err)
		}

		code, err := crypto.GenerateNumericCode(codeDigits)
		if err != nil {
			return fmt.Errorf("verification service: generate code: %w", err)
		}

		if err := tx.Model(&record).Updates(map[string]any{
			"code":       code,
			"expires_at": s.now().Add(s.expiry),
		}).Error; err != nil {
			return fmt.Errorf("verification service: regenerate code: %w", err)
		}

		return s.notifier.SendVerificationCode(ctx, email, code)
	})
	if err != nil {
		return err
	}

	s.log.Info("verification code resent", zap.String("email", email))
	return nil
}

// Submit consumes the pending code for email. On success the account's
// verified flag flips, the ledger entry is deleted, and a freshly issued
// credential token is returned: verification doubles as first login. Flag
// flip and ledger deletion commit together or not at all.
func (s *VerificationService) Submit(ctx context.Context, email, code string) (string, *models.User, error) {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return "", nil, apperrors.ErrInvalidOrExpired
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	var user models.User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.VerificationCode
		if err := tx.Where("email = ? AND code = ?", email, code).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidOrExpired
			}
			return fmt.Errorf("verification service: find code: %w", err)
		}
		if record.Expired(s.now()) {
			return apperrors.ErrInvalidOrExpired
		}

		// Qualified delete so two concurrent submissions cannot both consume
		// the same code.
		res := tx.Where("email = ? AND code = ?", email, code).Delete(&models.VerificationCode{})
		if res.Error != nil {
			return fmt.Errorf("verification service: consume code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrInvalidOrExpired
		}

		if err := tx.Where("email = ?", email).Take(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("verification service: load user: %w", err)
		}

		if err := tx.Model(&user).Update("verified", true).Error; err != nil {
			return fmt.Errorf("verification service: mark verified: %w", err)
		}
		user.Verified = true

		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidOrExpired) {
			metrics.Verifications.WithLabelValues("invalid_or_expired").Inc()
		} else {
			metrics.Verifications.WithLabelValues("error").Inc()
		}
		return "", nil, err
	}

	token, err := s.jwt.Issue(user.ID, user.Email)
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("verification service: issue token: %w", err)
	}

	metrics.Verifications.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: "email.verify",
		Result: "success",
	})
	s.log.Info("email verified", zap.String("email", email))

	return token, &user, nil
}

// PruneExpired deletes ledger entries whose expiry has passed. Used by the
// maintenance cleaner; expired entries are already unusable, this only
// reclaims storage.
func (s *VerificationService) PruneExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&models.VerificationCode{})
	if res.Error != nil {
		return 0, fmt.Errorf("verification service: prune expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
