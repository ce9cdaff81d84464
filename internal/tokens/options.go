package tokens

import (
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/models"
)

const (
	// DefaultEmailVerificationTTL is the lifetime of an email-verification token.
	DefaultEmailVerificationTTL = 24 * time.Hour
	// DefaultPasswordResetTTL is the lifetime of a password-reset token.
	DefaultPasswordResetTTL = time.Hour
	// DefaultTokenBytes is the amount of entropy in a raw token.
	DefaultTokenBytes = 32
)

type options struct {
	now          func() time.Time
	ttls         map[models.TokenClass]time.Duration
	tokenBytes   int
	purgeExpired bool
	log          *zap.Logger
}

func defaultOptions() options {
	return options{
		now: time.Now,
		ttls: map[models.TokenClass]time.Duration{
			models.TokenClassEmailVerification: DefaultEmailVerificationTTL,
			models.TokenClassPasswordReset:     DefaultPasswordResetTTL,
		},
		tokenBytes: DefaultTokenBytes,
	}
}

// Option customises an Issuer or Verifier.
type Option func(*options)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithExpiry overrides the lifetime of tokens of the given class.
func WithExpiry(class models.TokenClass, ttl time.Duration) Option {
	return func(o *options) {
		if class.Valid() && ttl > 0 {
			o.ttls[class] = ttl
		}
	}
}

// WithTokenBytes adjusts the number of random bytes in issued tokens.
func WithTokenBytes(n int) Option {
	return func(o *options) {
		if n >= 16 {
			o.tokenBytes = n
		}
	}
}

// WithPurgeExpired makes the verifier clear a slot when it sees its token expired.
// By default expired slots are left for the maintenance sweeper.
func WithPurgeExpired(enabled bool) Option {
	return func(o *options) {
		o.purgeExpired = enabled
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
