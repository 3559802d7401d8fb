package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/mail"
)

type recordingMailer struct {
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNewMailNotifierRequiresMailer(t *testing.T) {
	_, err := NewMailNotifier(nil)
	require.Error(t, err)
}

func TestSendVerificationCode(t *testing.T) {
	mailer := &recordingMailer{}
	n, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationCode(context.Background(), "alice@x.com", "123456"))
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "alice@x.com", mailer.sent[0].To)
	require.Contains(t, mailer.sent[0].Body, "123456")
}

func TestMessagesQuoteConfiguredTTL(t *testing.T) {
	mailer := &recordingMailer{}
	n, err := NewMailNotifier(mailer,
		WithVerificationTTL(30*time.Minute),
		WithResetTTL(2*time.Hour))
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationCode(context.Background(), "alice@x.com", "123456"))
	require.NoError(t, n.SendPasswordResetCode(context.Background(), "alice@x.com", "654321"))
	require.Len(t, mailer.sent, 2)
	require.Contains(t, mailer.sent[0].Body, "expires in 30 minutes")
	require.Contains(t, mailer.sent[1].Body, "expires in 2 hours")
}

func TestMessagesDefaultTTL(t *testing.T) {
	mailer := &recordingMailer{}
	n, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationCode(context.Background(), "alice@x.com", "123456"))
	require.Contains(t, mailer.sent[0].Body, "expires in 15 minutes")
}

func TestSendWrapsTransportFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("connection refused")}
	n, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	err = n.SendPasswordResetCode(context.Background(), "bob@x.com", "654321")
	require.ErrorIs(t, err, apperrors.ErrNotifyFailed)
}

func TestSendTreatsDisabledSMTPAsDelivered(t *testing.T) {
	mailer := &recordingMailer{err: mail.ErrSMTPDisabled}
	n, err := NewMailNotifier(mailer)
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationCode(context.Background(), "alice@x.com", "123456"))
}
