package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/database/testutil"
	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/pkg/crypto"
)

// fakeNotifier records dispatched codes so tests can observe what a user
// would have received. Setting fail makes every send return the given error.
type fakeNotifier struct {
	mu sync.Mutex

	verificationCodes map[string][]string
	resetCodes        map[string][]string
	fail              error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		verificationCodes: make(map[string][]string),
		resetCodes:        make(map[string][]string),
	}
}

func (f *fakeNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.verificationCodes[email] = append(f.verificationCodes[email], code)
	return nil
}

func (f *fakeNotifier) SendPasswordResetCode(ctx context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.resetCodes[email] = append(f.resetCodes[email], code)
	return nil
}

func (f *fakeNotifier) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeNotifier) lastVerificationCode(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := f.verificationCodes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

func (f *fakeNotifier) lastResetCode(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := f.resetCodes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

// testClock is a manually advanced time source shared by the services under
// test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	clock    *testClock
	notifier *fakeNotifier
	jwt      *auth.JWTService

	auth         *AuthService
	verification *VerificationService
	reset        *PasswordResetService
	users        *UserService
	audit        *AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	clock := newTestClock()
	notifier := newFakeNotifier()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret",
		Issuer: "authgate-test",
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	auditService, err := NewAuditService(db)
	require.NoError(t, err)

	verification, err := NewVerificationService(db, jwtService, notifier, auditService,
		WithVerificationClock(clock.Now))
	require.NoError(t, err)

	authService, err := NewAuthService(db, jwtService, verification, auditService,
		WithAuthClock(clock.Now))
	require.NoError(t, err)

	resetService, err := NewPasswordResetService(db, notifier, auditService,
		WithResetClock(clock.Now))
	require.NoError(t, err)

	userService, err := NewUserService(db)
	require.NoError(t, err)

	return &testEnv{
		db:           db,
		clock:        clock,
		notifier:     notifier,
		jwt:          jwtService,
		auth:         authService,
		verification: verification,
		reset:        resetService,
		users:        userService,
		audit:        auditService,
	}
}

// mustRegister registers an unverified account and returns it.
func (e *testEnv) mustRegister(t *testing.T, email, password string) *models.User {
	t.Helper()

	user, err := e.auth.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	return user
}

// mustRegisterVerified registers an account and completes verification.
func (e *testEnv) mustRegisterVerified(t *testing.T, email, password string) *models.User {
	t.Helper()

	e.mustRegister(t, email, password)
	code := e.notifier.lastVerificationCode(email)
	require.NotEmpty(t, code)

	_, user, err := e.verification.Submit(context.Background(), email, code)
	require.NoError(t, err)
	return user
}

func (e *testEnv) codeCount(t *testing.T, email string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.VerificationCode{}).
		Where("email = ?", email).Count(&count).Error)
	return count
}

func (e *testEnv) resetTokenCount(t *testing.T, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.PasswordResetToken{}).
		Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func (e *testEnv) passwordHash(t *testing.T, email string) string {
	t.Helper()
	var user models.User
	require.NoError(t, e.db.Where("email = ?", email).Take(&user).Error)
	return user.Password
}

func requirePasswordMatches(t *testing.T, hash, password string) {
	t.Helper()
	require.True(t, crypto.VerifyPassword(hash, password))
}
