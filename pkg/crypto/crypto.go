package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// dummyHash is a valid bcrypt digest of an unguessable value. Comparing
// against it when no account matches keeps the failure path timing close to
// the wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// BurnPasswordCheck performs a bcrypt comparison that always fails, consuming
// roughly the same time as a real verification.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}

// GenerateNumericCode returns a zero-padded numeric string of the requested
// number of digits, drawn from crypto/rand. Code guessability is a security
// property, so general-purpose pseudo-randomness is never used here.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("crypto: digits must be positive, got %d", digits)
	}

	bound := big.NewInt(10)
	bound.Exp(bound, big.NewInt(int64(digits)), nil)

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("crypto: generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
