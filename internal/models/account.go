package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is the credential record of a Hearth user. Secret tokens are never stored raw:
// each slot keeps an Argon2id hash plus a keyed lookup prefix, and the pair is always
// set or cleared together.
type Account struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `json:"display_name"`

	// PasswordHash is empty for accounts created through an identity provider. It may
	// temporarily hold an operator-set experimental password (see ExperimentalPasswordTag).
	PasswordHash string `json:"-"`

	IsAdmin       bool `gorm:"default:false" json:"is_admin"`
	EmailVerified bool `gorm:"default:false" json:"email_verified"`

	TOTPEnabled       bool   `gorm:"column:totp_enabled;default:false" json:"totp_enabled"`
	TOTPSecret        string `gorm:"column:totp_secret" json:"-"`
	TOTPPendingSecret string `gorm:"column:totp_pending_secret" json:"-"`

	RefreshTokenHash   *string `json:"-"`
	RefreshTokenPrefix *string `gorm:"index;size:64" json:"-"`

	EmailVerificationHash      *string    `json:"-"`
	EmailVerificationPrefix    *string    `gorm:"index;size:64" json:"-"`
	EmailVerificationExpiresAt *time.Time `json:"-"`

	PasswordResetHash      *string    `json:"-"`
	PasswordResetPrefix    *string    `gorm:"index;size:64" json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`

	FamilyID *string `gorm:"type:uuid;index" json:"family_id"`

	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID unless one was supplied.
func (a *Account) BeforeCreate(*gorm.DB) error {
	a.ID = ensureID(a.ID)
	return nil
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// TwoFactorState describes where the account is in the TOTP enrollment lifecycle.
func (a *Account) TwoFactorState() TwoFactorState {
	switch {
	case a.TOTPEnabled:
		return TwoFactorEnabled
	case a.TOTPPendingSecret != "":
		return TwoFactorPendingEnrollment
	default:
		return TwoFactorDisabled
	}
}

// TwoFactorState enumerates the TOTP lifecycle states.
type TwoFactorState string

const (
	TwoFactorDisabled          TwoFactorState = "disabled"
	TwoFactorPendingEnrollment TwoFactorState = "pending"
	TwoFactorEnabled           TwoFactorState = "enabled"
)

// ExperimentalPasswordTag marks an operator-set temporary password stored in plain form.
// It is replaced by a regular hash on the first successful sign-in.
const ExperimentalPasswordTag = "$plain$"
