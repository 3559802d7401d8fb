package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/app"
	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/database/testutil"
	"github.com/authgate/authgate/internal/services"
)

// recordingNotifier captures the latest code per recipient.
type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{codes: make(map[string]string)}
}

func (r *recordingNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes["verify:"+email] = code
	return nil
}

func (r *recordingNotifier) SendPasswordResetCode(ctx context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes["reset:"+email] = code
	return nil
}

func (r *recordingNotifier) code(kind, email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[kind+":"+email]
}

type routerFixture struct {
	engine   *gin.Engine
	notifier *recordingNotifier
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	notifier := newRecordingNotifier()

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "authgate-test"})
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	verification, err := services.NewVerificationService(db, jwtSvc, notifier, audit)
	require.NoError(t, err)

	authSvc, err := services.NewAuthService(db, jwtSvc, verification, audit)
	require.NoError(t, err)

	reset, err := services.NewPasswordResetService(db, notifier, audit)
	require.NoError(t, err)

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.FrontendURL = "http://localhost:3000"
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	engine, err := NewRouter(Dependencies{
		Config:       cfg,
		JWT:          jwtSvc,
		Auth:         authSvc,
		Verification: verification,
		Reset:        reset,
		Users:        users,
		Audit:        audit,
	})
	require.NoError(t, err)

	return &routerFixture{engine: engine, notifier: notifier}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(encoded)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "expected success envelope, got %s", w.Body.String())
	return envelope.Data
}

func TestFullAccountLifecycle(t *testing.T) {
	f := newRouterFixture(t)

	// Register
	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":      "alice@x.com",
		"password":   "hunter22hunter22",
		"first_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Login before verification is refused
	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "alice@x.com",
		"password": "hunter22hunter22",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	// Verify using the emailed code; the response logs us in
	code := f.notifier.code("verify", "alice@x.com")
	require.Len(t, code, 6)

	w = f.do(t, http.MethodPost, "/api/email/verify", "", gin.H{
		"email": "alice@x.com",
		"code":  code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeData(t, w)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)

	// Profile round trip with the verification token
	w = f.do(t, http.MethodGet, "/api/user/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decodeData(t, w)["user"].(map[string]any)
	assert.Equal(t, "alice@x.com", profile["email"])
	assert.Equal(t, true, profile["verified"])

	w = f.do(t, http.MethodPut, "/api/user/profile", token, gin.H{
		"first_name": "Alicia",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Fresh login works too
	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "alice@x.com",
		"password": "hunter22hunter22",
	})
	require.Equal(t, http.StatusOK, w.Code)
	login := decodeData(t, w)
	assert.NotEmpty(t, login["token"])

	// Current user reflects the profile update
	w = f.do(t, http.MethodGet, "/api/auth/current", login["token"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	current := decodeData(t, w)["user"].(map[string]any)
	assert.Equal(t, "Alicia", current["first_name"])
}

func TestPasswordRecoveryOverHTTP(t *testing.T) {
	f := newRouterFixture(t)

	// Provision a verified account
	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "bob@x.com",
		"password": "originalpass",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, "/api/email/verify", "", gin.H{
		"email": "bob@x.com",
		"code":  f.notifier.code("verify", "bob@x.com"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Forgot -> validate -> reset
	w = f.do(t, http.MethodPost, "/api/user/password/forgot", "", gin.H{"email": "bob@x.com"})
	require.Equal(t, http.StatusOK, w.Code)

	code := f.notifier.code("reset", "bob@x.com")
	require.Len(t, code, 6)

	w = f.do(t, http.MethodPost, "/api/user/password/validate-code", "", gin.H{"code": code})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/user/password/reset", "", gin.H{
		"code":         code,
		"new_password": "replacementpass",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Old credential is dead, new one works
	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "bob@x.com",
		"password": "originalpass",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "bob@x.com",
		"password": "replacementpass",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Unknown email gets the same neutral answer as a real one
	w = f.do(t, http.MethodPost, "/api/user/password/forgot", "", gin.H{"email": "ghost@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/user/profile"},
		{http.MethodPut, "/api/user/profile"},
		{http.MethodGet, "/api/auth/current"},
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/audit"},
	} {
		w := f.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code,
			fmt.Sprintf("%s %s should require a token", route.method, route.path))
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authgate_")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route /api/nope not found")
}

func TestInvalidPayloadRejected(t *testing.T) {
	f := newRouterFixture(t)

	// Malformed email
	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "not-an-email",
		"password": "longenoughpass",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Short password
	w = f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "alice@x.com",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Non-numeric verification code
	w = f.do(t, http.MethodPost, "/api/email/verify", "", gin.H{
		"email": "alice@x.com",
		"code":  "abcdef",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDuplicateRegistrationConflict(t *testing.T) {
	f := newRouterFixture(t)

	payload := gin.H{"email": "alice@x.com", "password": "hunter22hunter22"}
	w := f.do(t, http.MethodPost, "/api/auth/register", "", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/register", "", payload)
	require.Equal(t, http.StatusConflict, w.Code)
}
