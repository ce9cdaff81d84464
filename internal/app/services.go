package app

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/auth"
	"github.com/charlesng35/hearth/internal/auth/mfa"
	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/monitoring"
	"github.com/charlesng35/hearth/internal/monitoring/checks"
	"github.com/charlesng35/hearth/internal/services"
	"github.com/charlesng35/hearth/internal/tokens"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/mail"
)

// Services bundles the long-lived collaborators built from a Config.
type Services struct {
	DB         *gorm.DB
	Store      *credentials.Store
	Hasher     *crypto.Hasher
	Codec      *crypto.TokenCodec
	JWT        *auth.JWTService
	Issuer     *tokens.Issuer
	Verifier   *tokens.Verifier
	Refresh    *auth.RefreshService
	TOTP       *mfa.TOTPService
	Families   *services.FamilyService
	Dispatcher *services.Dispatcher
	Accounts   *services.AccountService
	Health     *monitoring.HealthManager
}

// NewServices wires the credential stack on top of db. Secrets must already be
// resolved, typically by ApplyRuntimeDefaults. A nil mailer disables email.
func NewServices(cfg *Config, db *gorm.DB, mailer mail.Mailer) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("services: config is nil")
	}
	if db == nil {
		return nil, errors.New("services: database is nil")
	}

	s := &Services{DB: db, Health: monitoring.NewHealthManager()}
	s.Health.Register(checks.Database(db, 0))
	var err error

	if s.Store, err = credentials.NewStore(db, credentials.WithMaxCandidates(cfg.Auth.Tokens.MaxCandidates)); err != nil {
		return nil, err
	}
	if s.Hasher, err = crypto.NewHasher(cfg.Auth.HashParams()); err != nil {
		return nil, fmt.Errorf("services: hasher: %w", err)
	}

	prefixKey, err := DecodeKey(cfg.Auth.Tokens.PrefixSecret)
	if err != nil {
		return nil, fmt.Errorf("services: auth.tokens.prefix_secret: %w", err)
	}
	if s.Codec, err = crypto.NewTokenCodec(prefixKey, cfg.Auth.PrefixLength()); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}

	if s.JWT, err = auth.NewJWTService(cfg.Auth.JWTServiceConfig()); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}

	tokenOpts := cfg.Auth.TokenOptions()
	if s.Issuer, err = tokens.NewIssuer(s.Store, s.Hasher, s.Codec, tokenOpts...); err != nil {
		return nil, err
	}
	if s.Verifier, err = tokens.NewVerifier(s.Store, s.Hasher, s.Codec, tokenOpts...); err != nil {
		return nil, err
	}
	if s.Refresh, err = auth.NewRefreshService(s.Store, s.Hasher, s.Codec, s.JWT); err != nil {
		return nil, err
	}

	totpKey, err := DecodeKeyOfLength("auth.totp.encryption_key", cfg.Auth.TOTP.EncryptionKey, 16, 24, 32)
	if err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	var totpOpts []mfa.Option
	if issuer := strings.TrimSpace(cfg.Auth.TOTP.Issuer); issuer != "" {
		totpOpts = append(totpOpts, mfa.WithIssuer(issuer))
	}
	if s.TOTP, err = mfa.NewTOTPService(s.Store, totpKey, totpOpts...); err != nil {
		return nil, err
	}

	if s.Families, err = services.NewFamilyService(db); err != nil {
		return nil, err
	}

	var notifier services.Notifier
	if mailer != nil {
		mn, err := services.NewMailNotifier(mailer, cfg.Email.BaseURL)
		if err != nil {
			return nil, err
		}
		notifier = mn
	}
	s.Dispatcher = services.NewDispatcher(notifier, services.WithDispatchTimeout(cfg.Email.SMTP.Timeout))

	s.Accounts, err = services.NewAccountService(services.AccountDeps{
		Store:    s.Store,
		Hasher:   s.Hasher,
		Issuer:   s.Issuer,
		Verifier: s.Verifier,
		Refresh:  s.Refresh,
		TOTP:     s.TOTP,
		Families: s.Families,
		Notify:   s.Dispatcher,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
