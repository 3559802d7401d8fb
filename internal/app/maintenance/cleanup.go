package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultCodeSpec           = "@hourly"
	defaultTokenSpec          = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Cleaner coordinates background maintenance: purging expired verification
// codes, removing dead password reset tokens, and enforcing audit retention.
// All purges are safe to skip; expired entries are already unusable and the
// jobs only reclaim storage.
type Cleaner struct {
	verification *services.VerificationService
	reset        *services.PasswordResetService
	audit        *services.AuditService
	cron         *cron.Cron
	now          func() time.Time
	log          *zap.Logger
	retention    int

	codeSchedule  string
	tokenSchedule string
	auditSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithCodeSchedule overrides the cron specification for verification code cleanup.
func WithCodeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.codeSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for reset token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(verification *services.VerificationService, reset *services.PasswordResetService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		verification:  verification,
		reset:         reset,
		audit:         audit,
		now:           time.Now,
		retention:     defaultAuditRetentionDays,
		codeSchedule:  defaultCodeSpec,
		tokenSchedule: defaultTokenSpec,
		auditSchedule: defaultAuditSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if c.verification == nil && c.reset == nil && c.audit == nil {
		return nil
	}

	if c.verification != nil {
		if _, err := c.cron.AddFunc(c.codeSchedule, func() {
			if _, err := c.verification.PruneExpired(context.Background()); err != nil {
				c.log.Warn("verification code cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.reset != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := c.reset.PruneDead(context.Background()); err != nil {
				c.log.Warn("reset token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			cutoff := c.now().AddDate(0, 0, -c.retention)
			if _, err := c.audit.PruneBefore(context.Background(), cutoff); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.verification != nil {
		if _, err := c.verification.PruneExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.reset != nil {
		if _, err := c.reset.PruneDead(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		cutoff := c.now().AddDate(0, 0, -c.retention)
		if _, err := c.audit.PruneBefore(ctx, cutoff); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
