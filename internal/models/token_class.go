package models

import "time"

// TokenClass identifies a pending-token slot on an account.
type TokenClass string

const (
	TokenClassEmailVerification TokenClass = "email_verification"
	TokenClassPasswordReset     TokenClass = "password_reset"
)

// Valid reports whether c names a known slot.
func (c TokenClass) Valid() bool {
	switch c {
	case TokenClassEmailVerification, TokenClassPasswordReset:
		return true
	default:
		return false
	}
}

// TokenClasses lists every pending-token class.
func TokenClasses() []TokenClass {
	return []TokenClass{TokenClassEmailVerification, TokenClassPasswordReset}
}

// PendingToken is the persisted form of an outstanding token: never the raw value.
type PendingToken struct {
	Hash      string
	Prefix    string
	ExpiresAt time.Time
}

// Pending returns the stored slot for class, or nil when it is empty.
func (a *Account) Pending(class TokenClass) *PendingToken {
	var hash, prefix *string
	var expires *time.Time

	switch class {
	case TokenClassEmailVerification:
		hash, prefix, expires = a.EmailVerificationHash, a.EmailVerificationPrefix, a.EmailVerificationExpiresAt
	case TokenClassPasswordReset:
		hash, prefix, expires = a.PasswordResetHash, a.PasswordResetPrefix, a.PasswordResetExpiresAt
	default:
		return nil
	}

	if hash == nil || prefix == nil {
		return nil
	}

	token := &PendingToken{Hash: *hash, Prefix: *prefix}
	if expires != nil {
		token.ExpiresAt = *expires
	}
	return token
}
