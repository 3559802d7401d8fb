package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/auditctx"
)

func TestAuditLogAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.mustRegister(t, "alice@x.com", "hunter22")

	require.NoError(t, env.audit.Log(ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    "user.login",
		Result:    "bad_credentials",
		IPAddress: "198.51.100.7",
		Metadata:  map[string]any{"attempt": 3},
	}))

	entries, total, err := env.audit.List(ctx, AuditListOptions{
		Action: "user.login",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, "bad_credentials", entries[0].Result)
	assert.Equal(t, "198.51.100.7", entries[0].IPAddress)
	assert.Contains(t, entries[0].Metadata, "attempt")
}

func TestAuditListPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, env.audit.Log(ctx, AuditEntry{
			Email:  "alice@x.com",
			Action: "user.login",
			Result: "success",
		}))
	}

	entries, total, err := env.audit.List(ctx, AuditListOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, entries, 2)

	entries, _, err = env.audit.List(ctx, AuditListOptions{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditServicesRecordLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustRegisterVerified(t, "alice@x.com", "hunter22")
	_, _, err := env.auth.Authenticate(ctx, "alice@x.com", "wrong")
	require.Error(t, err)

	for _, action := range []string{"user.register", "email.verify", "user.login"} {
		_, total, err := env.audit.List(ctx, AuditListOptions{Action: action})
		require.NoError(t, err)
		assert.Positive(t, total, "expected audit entries for %s", action)
	}
}

func TestAuditEntriesInheritRequestActor(t *testing.T) {
	env := newTestEnv(t)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		IPAddress: "203.0.113.9",
		UserAgent: "integration-client",
	})

	env.mustRegister(t, "alice@x.com", "hunter22")
	_, _, err := env.auth.Authenticate(ctx, "alice@x.com", "wrong")
	require.Error(t, err)

	entries, _, err := env.audit.List(context.Background(), AuditListOptions{
		Action: "user.login",
		Result: "bad_credentials",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "203.0.113.9", entries[0].IPAddress)
	assert.Equal(t, "integration-client", entries[0].UserAgent)
}

func TestAuditPruneBefore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.audit.Log(ctx, AuditEntry{
		Email:  "alice@x.com",
		Action: "user.login",
		Result: "success",
	}))

	removed, err := env.audit.PruneBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, total, err := env.audit.List(ctx, AuditListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
