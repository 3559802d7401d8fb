package models

import "time"

// VerificationCode is the ledger entry for a pending email confirmation.
// The write path guarantees at most one live record per email; resends
// regenerate the code and expiry in place rather than inserting a new row.
type VerificationCode struct {
	BaseModel

	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Code      string    `gorm:"size:6;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (v *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
