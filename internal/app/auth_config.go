package app

import (
	"time"

	"github.com/charlesng35/hearth/internal/auth"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/internal/tokens"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/mail"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// HashParams converts the hashing section into Argon2id parameters, keeping
// defaults for every zero field.
func (c AuthConfig) HashParams() crypto.HashParams {
	params := crypto.DefaultHashParams()
	h := c.Hashing
	if h.Time > 0 {
		params.Time = h.Time
	}
	if h.MemoryKiB > 0 {
		params.Memory = h.MemoryKiB
	}
	if h.Threads > 0 {
		params.Threads = h.Threads
	}
	if h.SaltLength > 0 {
		params.SaltLength = h.SaltLength
	}
	if h.KeyLength > 0 {
		params.KeyLength = h.KeyLength
	}
	return params
}

// TokenOptions converts the tokens section into issuer and verifier options.
func (c AuthConfig) TokenOptions() []tokens.Option {
	return []tokens.Option{
		tokens.WithExpiry(models.TokenClassEmailVerification, durationOr(c.Tokens.EmailVerificationTTL, tokens.DefaultEmailVerificationTTL)),
		tokens.WithExpiry(models.TokenClassPasswordReset, durationOr(c.Tokens.PasswordResetTTL, tokens.DefaultPasswordResetTTL)),
		tokens.WithPurgeExpired(c.Tokens.PurgeExpired),
	}
}

// PrefixLength returns the configured token prefix length or the codec default.
func (c AuthConfig) PrefixLength() int {
	if c.Tokens.PrefixLength <= 0 {
		return crypto.DefaultPrefixLength
	}
	return c.Tokens.PrefixLength
}

// SMTPSettings converts EmailConfig into mailer settings.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
