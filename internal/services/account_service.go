package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/auth"
	"github.com/charlesng35/hearth/internal/auth/mfa"
	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/internal/tokens"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/metrics"
)

// MinPasswordLength is the shortest password accepted at sign-up and reset.
const MinPasswordLength = 8

// DataPurger removes an account's resource data held by other modules.
type DataPurger interface {
	PurgeAccountData(ctx context.Context, accountID string) error
}

// SignUpInput carries the fields of a new local registration.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

// SignInInput carries password sign-in credentials.
type SignInInput struct {
	Email    string
	Password string
	TOTPCode string
}

// SignInResult is returned on successful authentication.
type SignInResult struct {
	Account *models.Account
	Tokens  auth.TokenPair
}

// DeletionResult reports the family side effects of a deletion.
type DeletionResult struct {
	FamilyID             string `json:"family_id,omitempty"`
	OwnershipTransferred bool   `json:"ownership_transferred"`
	NewOwnerID           string `json:"new_owner_id,omitempty"`
}

// AccountDeps groups the collaborators of AccountService.
type AccountDeps struct {
	Store    *credentials.Store
	Hasher   *crypto.Hasher
	Issuer   *tokens.Issuer
	Verifier *tokens.Verifier
	Refresh  *auth.RefreshService
	TOTP     *mfa.TOTPService
	Families FamilyBoundary
	Notify   *Dispatcher
	Purger   DataPurger
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithAccountClock injects a custom time source.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAccountLogger overrides the module logger.
func WithAccountLogger(log *zap.Logger) AccountOption {
	return func(s *AccountService) {
		if log != nil {
			s.log = log
		}
	}
}

// AccountService coordinates the account lifecycle across the credential
// store, token machinery, two-factor, families and notifications.
type AccountService struct {
	deps      AccountDeps
	dummyHash string
	now       func() time.Time
	log       *zap.Logger
}

// NewAccountService constructs an AccountService. Notify and Purger are optional.
func NewAccountService(deps AccountDeps, opts ...AccountOption) (*AccountService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("account service: store is required")
	case deps.Hasher == nil:
		return nil, errors.New("account service: hasher is required")
	case deps.Issuer == nil || deps.Verifier == nil:
		return nil, errors.New("account service: token issuer and verifier are required")
	case deps.Refresh == nil:
		return nil, errors.New("account service: refresh service is required")
	case deps.TOTP == nil:
		return nil, errors.New("account service: totp service is required")
	case deps.Families == nil:
		// Deletion must release family ownership; without it owner_id would dangle.
		return nil, errors.New("account service: family boundary is required")
	}

	// Unknown emails are checked against this hash so both failure paths cost one Argon2 run.
	dummy, err := deps.Hasher.Hash([]byte("hearth-unknown-account"))
	if err != nil {
		return nil, fmt.Errorf("account service: dummy hash: %w", err)
	}

	svc := &AccountService{
		deps:      deps,
		dummyHash: dummy,
		now:       time.Now,
		log:       logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SignUp registers a local account, issues its verification token and
// creates its default family. The verification email is sent in the background.
func (s *AccountService) SignUp(ctx context.Context, in SignUpInput) (*models.Account, error) {
	email, err := normaliseEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.deps.Store.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("account service: sign up: %w", err)
	}

	hash, err := s.deps.Hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	account := &models.Account{
		Email:        email,
		DisplayName:  displayNameOr(in.DisplayName, email),
		PasswordHash: hash,
	}
	if err := s.deps.Store.Create(ctx, account); err != nil {
		return nil, err
	}

	token, err := s.deps.Issuer.Issue(ctx, account.ID, models.TokenClassEmailVerification)
	if err != nil {
		return nil, fmt.Errorf("account service: issue verification token: %w", err)
	}
	s.createDefaultFamily(ctx, account)
	s.deps.Notify.VerificationEmail(account.Email, token)

	s.log.Info("account registered", zap.String("account_id", account.ID))
	return account, nil
}

// SignIn authenticates with email and password (and a TOTP code when
// two-factor is enabled) and returns a fresh token pair.
func (s *AccountService) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	result, err := s.signIn(ctx, in)
	metrics.AuthAttempts.WithLabelValues(signInResult(err)).Inc()
	return result, err
}

func (s *AccountService) signIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	account, err := s.deps.Store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.deps.Hasher.Verify(s.dummyHash, []byte(in.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("account service: sign in: %w", err)
	}

	if err := s.checkPassword(ctx, account, in.Password); err != nil {
		return nil, err
	}

	if account.TOTPEnabled {
		if strings.TrimSpace(in.TOTPCode) == "" {
			return nil, ErrTwoFactorRequired
		}
		ok, err := s.deps.TOTP.ValidateCode(account, in.TOTPCode)
		if err != nil {
			return nil, fmt.Errorf("account service: validate two-factor code: %w", err)
		}
		if !ok {
			return nil, ErrInvalidTwoFactorCode
		}
	}

	return s.completeSignIn(ctx, account)
}

// checkPassword verifies password against the stored credential, migrating a
// tagged experimental password to a regular hash on its first use.
func (s *AccountService) checkPassword(ctx context.Context, account *models.Account, password string) error {
	stored := account.PasswordHash

	switch {
	case stored == "":
		s.deps.Hasher.Verify(s.dummyHash, []byte(password))
		return ErrInvalidCredentials

	case strings.HasPrefix(stored, models.ExperimentalPasswordTag):
		temporary := strings.TrimPrefix(stored, models.ExperimentalPasswordTag)
		if temporary == "" || subtle.ConstantTimeCompare([]byte(temporary), []byte(password)) != 1 {
			return ErrInvalidCredentials
		}
		return s.migrateExperimentalPassword(ctx, account, password)

	default:
		if !s.deps.Hasher.Verify(stored, []byte(password)) {
			return ErrInvalidCredentials
		}
		if s.deps.Hasher.NeedsRehash(stored) {
			s.rehash(ctx, account, password)
		}
		return nil
	}
}

func (s *AccountService) migrateExperimentalPassword(ctx context.Context, account *models.Account, password string) error {
	tagged := account.PasswordHash
	hash, err := s.deps.Hasher.Hash([]byte(password))
	if err != nil {
		return fmt.Errorf("account service: hash experimental password: %w", err)
	}

	swapped, err := s.deps.Store.SwapPasswordHash(ctx, account.ID, tagged, hash)
	if err != nil {
		return fmt.Errorf("account service: migrate experimental password: %w", err)
	}
	if !swapped {
		// A concurrent sign-in already migrated it, or the password changed.
		current, err := s.deps.Store.FindByID(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("account service: reload account: %w", err)
		}
		if strings.HasPrefix(current.PasswordHash, models.ExperimentalPasswordTag) ||
			!s.deps.Hasher.Verify(current.PasswordHash, []byte(password)) {
			return ErrInvalidCredentials
		}
		hash = current.PasswordHash
	}

	account.PasswordHash = hash
	s.log.Warn("experimental password migrated to hash", zap.String("account_id", account.ID))
	return nil
}

func (s *AccountService) rehash(ctx context.Context, account *models.Account, password string) {
	hash, err := s.deps.Hasher.Hash([]byte(password))
	if err != nil {
		s.log.Warn("password rehash failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	if _, err := s.deps.Store.SwapPasswordHash(ctx, account.ID, account.PasswordHash, hash); err != nil {
		s.log.Warn("password rehash failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	account.PasswordHash = hash
}

func (s *AccountService) completeSignIn(ctx context.Context, account *models.Account) (*SignInResult, error) {
	now := s.now().UTC()
	if err := s.deps.Store.UpdateLastLogin(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("account service: record login: %w", err)
	}
	account.LastLoginAt = &now

	pair, err := s.deps.Refresh.IssuePair(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("account service: issue tokens: %w", err)
	}
	return &SignInResult{Account: account, Tokens: pair}, nil
}

// SetExperimentalPassword lets an administrator set a temporary password for
// the account owning email. The value is stored tagged and is replaced by a
// regular hash the first time the user signs in with it.
func (s *AccountService) SetExperimentalPassword(ctx context.Context, actorID, email, temporary string) error {
	actor, err := s.deps.Store.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("account service: load actor: %w", err)
	}
	if !actor.IsAdmin {
		s.log.Warn("experimental password rejected for non-admin", zap.String("actor_id", actor.ID))
		return ErrForbidden
	}
	if err := checkPassword(temporary); err != nil {
		return err
	}

	target, err := s.deps.Store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.deps.Store.SetPasswordHash(ctx, target.ID, models.ExperimentalPasswordTag+temporary); err != nil {
		return fmt.Errorf("account service: set experimental password: %w", err)
	}

	s.log.Warn("experimental password set",
		zap.String("actor_id", actor.ID),
		zap.String("account_id", target.ID),
	)
	return nil
}

// RequestPasswordReset issues a reset token and emails it when the account
// exists. It succeeds identically for unknown emails.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.deps.Store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("account service: request reset: %w", err)
	}

	token, err := s.deps.Issuer.Issue(ctx, account.ID, models.TokenClassPasswordReset)
	if err != nil {
		return fmt.Errorf("account service: issue reset token: %w", err)
	}
	s.deps.Notify.PasswordResetEmail(account.Email, token)
	return nil
}

// ResetPassword redeems a reset token and sets the new password. The
// account's refresh token is revoked in the same write.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	hash, err := s.deps.Hasher.Hash([]byte(newPassword))
	if err != nil {
		return fmt.Errorf("account service: hash password: %w", err)
	}

	account, err := s.deps.Verifier.Redeem(ctx, token, models.TokenClassPasswordReset, func(*models.Account) (map[string]any, error) {
		updates := credentials.RefreshClearedUpdates()
		updates["password_hash"] = hash
		return updates, nil
	})
	if err != nil {
		return err
	}

	s.log.Info("password reset", zap.String("account_id", account.ID))
	return nil
}

// VerifyEmail redeems a verification token and marks the address verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*models.Account, error) {
	account, err := s.deps.Verifier.Redeem(ctx, token, models.TokenClassEmailVerification, func(*models.Account) (map[string]any, error) {
		return map[string]any{"email_verified": true}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("email verified", zap.String("account_id", account.ID))
	return account, nil
}

// ResendVerification issues a new verification token, superseding the
// previous one. Verified accounts are left alone.
func (s *AccountService) ResendVerification(ctx context.Context, accountID string) error {
	account, err := s.deps.Store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}

	token, err := s.deps.Issuer.Issue(ctx, account.ID, models.TokenClassEmailVerification)
	if err != nil {
		return fmt.Errorf("account service: issue verification token: %w", err)
	}
	s.deps.Notify.VerificationEmail(account.Email, token)
	return nil
}

// UpsertOAuthAccount signs in the account owning email, creating a verified
// password-less account with a default family when none exists.
func (s *AccountService) UpsertOAuthAccount(ctx context.Context, email, displayName string) (*SignInResult, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return nil, err
	}

	account, err := s.deps.Store.FindByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, ErrAccountNotFound):
		account, err = s.createOAuthAccount(ctx, email, displayName)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("account service: oauth upsert: %w", err)
	}

	return s.completeSignIn(ctx, account)
}

func (s *AccountService) createOAuthAccount(ctx context.Context, email, displayName string) (*models.Account, error) {
	account := &models.Account{
		Email:         email,
		DisplayName:   displayNameOr(displayName, email),
		EmailVerified: true,
	}
	if err := s.deps.Store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Lost a creation race with a concurrent upsert.
			return s.deps.Store.FindByEmail(ctx, email)
		}
		return nil, err
	}
	s.createDefaultFamily(ctx, account)
	s.log.Info("account registered via identity provider", zap.String("account_id", account.ID))
	return account, nil
}

// DeleteAllData purges the account's resource data and detaches it from its
// family, handing ownership to the earliest remaining member or leaving the
// family ownerless. Missing accounts yield an empty result.
func (s *AccountService) DeleteAllData(ctx context.Context, accountID string) (*DeletionResult, error) {
	account, err := s.deps.Store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return &DeletionResult{}, nil
		}
		return nil, fmt.Errorf("account service: delete data: %w", err)
	}

	if s.deps.Purger != nil {
		if err := s.deps.Purger.PurgeAccountData(ctx, account.ID); err != nil {
			return nil, fmt.Errorf("account service: purge data: %w", err)
		}
	}

	result := &DeletionResult{}
	if account.FamilyID == nil {
		return result, nil
	}
	familyID := *account.FamilyID
	result.FamilyID = familyID

	newOwner, transferred, err := s.releaseOwnership(ctx, familyID, account.ID)
	if err != nil {
		return nil, err
	}
	result.OwnershipTransferred = transferred
	result.NewOwnerID = newOwner

	// Unlink last so a retry after a partial failure still finds the family.
	if err := s.deps.Store.SetFamily(ctx, account.ID, nil); err != nil {
		return nil, fmt.Errorf("account service: unlink family: %w", err)
	}
	return result, nil
}

// releaseOwnership moves ownership away from accountID when it owns the family.
func (s *AccountService) releaseOwnership(ctx context.Context, familyID, accountID string) (string, bool, error) {
	family, err := s.deps.Families.FindFamily(ctx, familyID)
	if err != nil {
		if errors.Is(err, ErrFamilyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("account service: load family: %w", err)
	}
	if family.OwnerID == nil || *family.OwnerID != accountID {
		return "", false, nil
	}

	members, err := s.deps.Families.ListMembers(ctx, familyID)
	if err != nil {
		return "", false, fmt.Errorf("account service: list family members: %w", err)
	}

	newOwner := ""
	for _, member := range members {
		if member.ID != accountID {
			newOwner = member.ID
			break
		}
	}

	if err := s.deps.Families.TransferOwnership(ctx, familyID, newOwner); err != nil {
		return "", false, fmt.Errorf("account service: transfer ownership: %w", err)
	}

	s.log.Info("family ownership released",
		zap.String("family_id", familyID),
		zap.String("previous_owner_id", accountID),
		zap.String("new_owner_id", newOwner),
	)
	return newOwner, newOwner != "", nil
}

// DeleteAccount runs DeleteAllData, revokes the refresh token and removes the account.
func (s *AccountService) DeleteAccount(ctx context.Context, accountID string) (*DeletionResult, error) {
	result, err := s.DeleteAllData(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Refresh.Revoke(ctx, accountID); err != nil {
		return nil, err
	}
	removed, err := s.deps.Store.Delete(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if removed {
		s.log.Info("account deleted", zap.String("account_id", accountID))
	}
	return result, nil
}

func (s *AccountService) createDefaultFamily(ctx context.Context, account *models.Account) {
	family, err := s.deps.Families.CreateFamily(ctx, account.ID, account.DisplayName+"'s family")
	if err != nil {
		s.log.Warn("default family creation failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	account.FamilyID = &family.ID
}

func normaliseEmail(email string) (string, error) {
	email = credentials.NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func checkPassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

func displayNameOr(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return email[:strings.LastIndex(email, "@")]
}

func signInResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTwoFactorRequired):
		return "two_factor_required"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidTwoFactorCode):
		return "failure"
	default:
		return "error"
	}
}
