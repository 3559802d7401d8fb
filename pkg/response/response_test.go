package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/authgate/authgate/pkg/errors"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	return c, rec
}

func TestSuccessEnvelope(t *testing.T) {
	c, rec := newTestContext(t)

	Success(c, http.StatusCreated, gin.H{"id": "abc"})

	require.Equal(t, http.StatusCreated, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, rec := newTestContext(t)

	Error(c, appErrors.ErrBadCredentials)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, appErrors.ErrBadCredentials.Code, body.Error.Code)
}

func TestErrorHidesUnclassifiedDetail(t *testing.T) {
	c, rec := newTestContext(t)

	Error(c, errors.New("pq: duplicate key value violates unique constraint"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "duplicate key")
}

func TestErrorNilDefaultsToInternal(t *testing.T) {
	c, rec := newTestContext(t)

	Error(c, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
