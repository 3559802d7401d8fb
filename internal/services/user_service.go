package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authgate/authgate/internal/models"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
)

// UpdateProfileInput lists the mutable fields of an account. Nil pointers
// leave the corresponding field untouched.
type UpdateProfileInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Avatar    *string
}

// UserService provides lookup and profile maintenance over stored identities.
type UserService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{
		db:  db,
		log: logger.WithModule("users"),
	}, nil
}

// GetByID fetches a single account by its identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get by id: %w", err)
	}
	return &user, nil
}

// GetByEmail fetches a single account by its email address.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normaliseEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get by email: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies the provided fields to the account. Changing the
// email to one already held by another account fails with AlreadyExists.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	updates := map[string]interface{}{}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*input.Avatar)
	}
	if input.Email != nil {
		email := normaliseEmail(*input.Email)
		if email == "" {
			return nil, apperrors.NewBadRequest("email cannot be empty")
		}
		updates["email"] = email
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", userID).Take(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("user service: load user: %w", err)
		}

		if len(updates) == 0 {
			return nil
		}

		if email, ok := updates["email"].(string); ok && email != user.Email {
			var count int64
			if err := tx.Model(&models.User{}).
				Where("email = ? AND id <> ?", email, userID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("user service: check email: %w", err)
			}
			if count > 0 {
				return apperrors.ErrAlreadyExists
			}
		}

		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrAlreadyExists
			}
			return fmt.Errorf("user service: update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("profile updated", zap.String("user_id", userID))
	return &user, nil
}
