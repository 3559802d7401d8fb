package models

import "time"

// PasswordResetToken is the single-use recovery token for an account.
// At most one live token exists per user; a used or expired token is
// permanently invalid.
type PasswordResetToken struct {
	BaseModel

	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Used      bool      `gorm:"default:false" json:"used"`
}

// Valid reports whether the token can still be consumed at the given instant.
func (t *PasswordResetToken) Valid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}
