package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/mail"
	"github.com/authgate/authgate/pkg/metrics"
)

const defaultCodeTTL = 15 * time.Minute

// Notifier delivers one-time codes to users out-of-band. Failures surface as
// ErrNotifyFailed; the caller decides how to roll back. No retries happen here.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordResetCode(ctx context.Context, email, code string) error
}

// MailOption customises the MailNotifier.
type MailOption func(*MailNotifier)

// WithVerificationTTL sets the code lifetime quoted in verification emails.
// Keep it in sync with the verification service's expiry.
func WithVerificationTTL(d time.Duration) MailOption {
	return func(n *MailNotifier) {
		if d > 0 {
			n.codeTTL = d
		}
	}
}

// WithResetTTL sets the token lifetime quoted in password reset emails.
func WithResetTTL(d time.Duration) MailOption {
	return func(n *MailNotifier) {
		if d > 0 {
			n.resetTTL = d
		}
	}
}

// MailNotifier sends codes over SMTP using the shared mailer.
type MailNotifier struct {
	mailer   mail.Mailer
	codeTTL  time.Duration
	resetTTL time.Duration
	log      *zap.Logger
}

// NewMailNotifier wraps the supplied mailer. A nil mailer is rejected so a
// missing transport is caught at wiring time, not at first send.
func NewMailNotifier(mailer mail.Mailer, opts ...MailOption) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notifier: mailer is required")
	}

	notifier := &MailNotifier{
		mailer:   mailer,
		codeTTL:  defaultCodeTTL,
		resetTTL: defaultCodeTTL,
		log:      logger.WithModule("notify"),
	}

	for _, opt := range opts {
		opt(notifier)
	}

	return notifier, nil
}

// SendVerificationCode emails an account-confirmation code.
func (n *MailNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	return n.send(ctx, "verification", email, mail.Message{
		To:      email,
		Subject: "Confirm your email address",
		Body: fmt.Sprintf(
			"Your verification code is: %s\n\nThis code expires in %s. If you did not create an account, you can ignore this message.\n",
			code, formatTTL(n.codeTTL),
		),
	})
}

// SendPasswordResetCode emails a password recovery code.
func (n *MailNotifier) SendPasswordResetCode(ctx context.Context, email, code string) error {
	return n.send(ctx, "password_reset", email, mail.Message{
		To:      email,
		Subject: "Password reset code",
		Body: fmt.Sprintf(
			"Your password reset code is: %s\n\nThis code expires in %s. If you did not request a reset, you can ignore this message.\n",
			code, formatTTL(n.resetTTL),
		),
	})
}

// formatTTL renders a lifetime for email copy: whole hours as hours,
// everything else as minutes.
func formatTTL(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}

	minutes := int(d / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func (n *MailNotifier) send(ctx context.Context, kind, email string, msg mail.Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		metrics.NotificationsSent.WithLabelValues(kind, "failure").Inc()
		n.log.Warn("notification delivery failed",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return apperrors.ErrNotifyFailed.WithInternal(err)
	}

	metrics.NotificationsSent.WithLabelValues(kind, "success").Inc()
	return nil
}
