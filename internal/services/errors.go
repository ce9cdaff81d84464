package services

import (
	"errors"

	"github.com/charlesng35/hearth/internal/auth"
	"github.com/charlesng35/hearth/internal/auth/mfa"
	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/tokens"
)

var (
	// ErrInvalidCredentials is returned for every failed password sign-in,
	// whether the email is unknown or the password is wrong.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrWeakPassword indicates the password does not meet the policy.
	ErrWeakPassword = errors.New("account: password does not meet policy")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = errors.New("account: invalid email address")
	// ErrTwoFactorRequired indicates the account needs a TOTP code to sign in.
	ErrTwoFactorRequired = errors.New("account: two-factor code required")
	// ErrInvalidTwoFactorCode indicates the supplied TOTP code is wrong.
	ErrInvalidTwoFactorCode = errors.New("account: invalid two-factor code")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("account: forbidden")
	// ErrFamilyNotFound indicates the family does not exist.
	ErrFamilyNotFound = errors.New("family: not found")
)

// Errors owned by lower layers, re-exported so callers depend on one package.
var (
	ErrAccountNotFound     = credentials.ErrAccountNotFound
	ErrEmailTaken          = credentials.ErrEmailTaken
	ErrInvalidToken        = tokens.ErrInvalidToken
	ErrTokenExpired        = tokens.ErrTokenExpired
	ErrRefreshTokenInvalid = auth.ErrRefreshTokenInvalid
	ErrAlreadyEnabled      = mfa.ErrAlreadyEnabled
	ErrNoPendingEnrollment = mfa.ErrNoPendingEnrollment
	ErrNotEnabled          = mfa.ErrNotEnabled
)
