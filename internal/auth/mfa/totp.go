// Package mfa implements TOTP two-factor enrollment and verification.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/logger"
)

const (
	defaultIssuer     = "Hearth"
	defaultQRCodeSize = 256

	period     = 30
	skew       = 1
	secretSize = 20
)

var (
	// ErrAlreadyEnabled is returned when enrollment is attempted while two-factor is active.
	ErrAlreadyEnabled = errors.New("totp: two-factor already enabled")
	// ErrNoPendingEnrollment is returned when confirming without a pending secret.
	ErrNoPendingEnrollment = errors.New("totp: no pending enrollment")
	// ErrNotEnabled is returned when validating a code for an account without two-factor.
	ErrNotEnabled = errors.New("totp: two-factor not enabled")
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Option allows customising the TOTP service.
type Option func(*TOTPService)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *TOTPService) {
		if log != nil {
			s.log = log
		}
	}
}

// Enrollment is returned to the user when two-factor setup begins.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode []byte `json:"qr_code"`
}

// TOTPService drives the Disabled -> PendingEnrollment -> Enabled lifecycle.
// Secrets are AES-GCM encrypted before they reach the store.
type TOTPService struct {
	store         *credentials.Store
	encryptionKey []byte

	issuer     string
	qrCodeSize int
	now        func() time.Time
	log        *zap.Logger
}

// NewTOTPService constructs a TOTP service. encryptionKey must be a valid AES key length.
func NewTOTPService(store *credentials.Store, encryptionKey []byte, opts ...Option) (*TOTPService, error) {
	if store == nil {
		return nil, errors.New("totp: store is required")
	}
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, errors.New("totp: encryption key must be 16, 24 or 32 bytes")
	}

	service := &TOTPService{
		store:         store,
		encryptionKey: append([]byte(nil), encryptionKey...),
		issuer:        defaultIssuer,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
		log:           logger.WithModule("totp"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// BeginEnrollment generates a new secret and stores it as pending. Calling it
// again before confirmation replaces the pending secret.
func (s *TOTPService) BeginEnrollment(ctx context.Context, accountID string) (*Enrollment, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TOTPEnabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: account.Email,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}

	encrypted, err := crypto.Encrypt([]byte(key.Secret()), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("totp: encrypt secret: %w", err)
	}

	stored, err := s.store.SetPendingTOTP(ctx, account.ID, encrypted)
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, ErrAlreadyEnabled
	}

	png, err := qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("totp: render qr code: %w", err)
	}

	s.log.Info("two-factor enrollment started", zap.String("account_id", account.ID))
	return &Enrollment{Secret: key.Secret(), URI: key.String(), QRCode: png}, nil
}

// ConfirmEnrollment checks code against the pending secret and, when it
// matches, promotes the secret to active. A wrong code leaves state untouched.
func (s *TOTPService) ConfirmEnrollment(ctx context.Context, accountID, code string) (bool, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account.TwoFactorState() != models.TwoFactorPendingEnrollment {
		return false, ErrNoPendingEnrollment
	}

	valid, err := s.validate(account.TOTPPendingSecret, code)
	if err != nil || !valid {
		return false, err
	}

	promoted, err := s.store.PromoteTOTP(ctx, account.ID, account.TOTPPendingSecret)
	if err != nil {
		return false, err
	}
	if !promoted {
		// Enrollment restarted or abandoned between read and write.
		return false, ErrNoPendingEnrollment
	}

	s.log.Info("two-factor enabled", zap.String("account_id", account.ID))
	return true, nil
}

// Disable turns two-factor off and discards both active and pending secrets.
func (s *TOTPService) Disable(ctx context.Context, accountID string) error {
	if err := s.store.DisableTOTP(ctx, accountID); err != nil {
		return err
	}
	s.log.Info("two-factor disabled", zap.String("account_id", accountID))
	return nil
}

// ValidateCode checks a sign-in code against the account's active secret.
func (s *TOTPService) ValidateCode(account *models.Account, code string) (bool, error) {
	if account == nil || !account.TOTPEnabled || account.TOTPSecret == "" {
		return false, ErrNotEnabled
	}
	return s.validate(account.TOTPSecret, code)
}

func (s *TOTPService) validate(encrypted, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	secret, err := crypto.Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, string(secret), s.now().UTC(), validateOpts)
	if err != nil {
		// Malformed codes are a wrong answer, not a failure.
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("totp: validate: %w", err)
	}
	return valid, nil
}
