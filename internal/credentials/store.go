// Package credentials persists account credential state. Every mutation is a
// single UPDATE statement; writes that must not race carry the value they
// expect to replace in their WHERE clause and report whether they won.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/database"
	"github.com/charlesng35/hearth/internal/models"
)

// DefaultMaxCandidates bounds how many rows a prefix lookup may return.
const DefaultMaxCandidates = 16

var (
	// ErrAccountNotFound indicates no account matches the lookup.
	ErrAccountNotFound = errors.New("credentials: account not found")
	// ErrEmailTaken indicates another account already owns the email address.
	ErrEmailTaken = errors.New("credentials: email already registered")
	// ErrUnknownTokenClass indicates a token class without a slot.
	ErrUnknownTokenClass = errors.New("credentials: unknown token class")
)

// StoreOption customises the Store.
type StoreOption func(*Store)

// WithMaxCandidates overrides the prefix lookup bound.
func WithMaxCandidates(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxCandidates = n
		}
	}
}

// Store reads and writes credential columns of the accounts table.
type Store struct {
	db            *gorm.DB
	maxCandidates int
}

// NewStore constructs a Store backed by db.
func NewStore(db *gorm.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("credentials: db is required")
	}
	store := &Store{db: db, maxCandidates: DefaultMaxCandidates}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// DB exposes the underlying handle for callers composing transactions.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// MaxCandidates returns the prefix lookup bound.
func (s *Store) MaxCandidates() int {
	return s.maxCandidates
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type slotColumns struct {
	hash    string
	prefix  string
	expires string
}

func columnsFor(class models.TokenClass) (slotColumns, error) {
	switch class {
	case models.TokenClassEmailVerification:
		return slotColumns{"email_verification_hash", "email_verification_prefix", "email_verification_expires_at"}, nil
	case models.TokenClassPasswordReset:
		return slotColumns{"password_reset_hash", "password_reset_prefix", "password_reset_expires_at"}, nil
	default:
		return slotColumns{}, fmt.Errorf("%w: %q", ErrUnknownTokenClass, class)
	}
}

func (c slotColumns) cleared() map[string]any {
	return map[string]any{c.hash: nil, c.prefix: nil, c.expires: nil}
}

func (s *Store) accounts(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Account{})
}

// Create inserts a new account. The email is normalised first.
func (s *Store) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return errors.New("credentials: account is required")
	}
	account.Email = NormalizeEmail(account.Email)
	if account.Email == "" {
		return errors.New("credentials: email is required")
	}

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("credentials: create account: %w", err)
	}
	return nil
}

// FindByID loads an account by primary key.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Take(&account, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("credentials: find account: %w", err)
	}
	return &account, nil
}

// FindByEmail loads an account by normalised email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Take(&account, "email = ?", NormalizeEmail(email)).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("credentials: find account by email: %w", err)
	}
	return &account, nil
}

// UpdateLastLogin records a successful sign-in.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateExisting(ctx, "update last login", id, map[string]any{"last_login_at": at})
}

// SetPendingToken writes a pending token into the class slot, replacing any previous one.
// Expiries are stored in UTC so the sweep can compare them as stored.
func (s *Store) SetPendingToken(ctx context.Context, id string, class models.TokenClass, token models.PendingToken) error {
	cols, err := columnsFor(class)
	if err != nil {
		return err
	}
	return s.updateExisting(ctx, "set pending token", id, map[string]any{
		cols.hash:    token.Hash,
		cols.prefix:  token.Prefix,
		cols.expires: token.ExpiresAt.UTC(),
	})
}

// FindByPendingPrefix returns the bounded candidate set sharing a prefix in the class slot.
func (s *Store) FindByPendingPrefix(ctx context.Context, class models.TokenClass, prefix string) ([]models.Account, error) {
	cols, err := columnsFor(class)
	if err != nil {
		return nil, err
	}
	return s.findByPrefix(ctx, cols.prefix, cols.hash, prefix)
}

// ConsumePendingToken clears the class slot and applies extra updates in one statement,
// provided the slot still holds hash. It reports false when another writer got there first.
func (s *Store) ConsumePendingToken(ctx context.Context, id string, class models.TokenClass, hash string, extra map[string]any) (bool, error) {
	cols, err := columnsFor(class)
	if err != nil {
		return false, err
	}

	updates := cols.cleared()
	for column, value := range extra {
		if _, reserved := updates[column]; reserved {
			continue
		}
		updates[column] = value
	}

	return s.updateIf("consume pending token",
		s.accounts(ctx).Where("id = ? AND "+cols.hash+" = ?", id, hash), updates)
}

// ClearPendingToken empties the class slot if it still holds hash.
func (s *Store) ClearPendingToken(ctx context.Context, id string, class models.TokenClass, hash string) (bool, error) {
	cols, err := columnsFor(class)
	if err != nil {
		return false, err
	}
	return s.updateIf("clear pending token",
		s.accounts(ctx).Where("id = ? AND "+cols.hash+" = ?", id, hash), cols.cleared())
}

// SetRefreshToken overwrites the refresh slot unconditionally.
func (s *Store) SetRefreshToken(ctx context.Context, id, hash, prefix string) error {
	return s.updateExisting(ctx, "set refresh token", id, map[string]any{
		"refresh_token_hash":   hash,
		"refresh_token_prefix": prefix,
	})
}

// SwapRefreshToken replaces the refresh slot only if it still holds oldHash.
func (s *Store) SwapRefreshToken(ctx context.Context, id, oldHash, newHash, newPrefix string) (bool, error) {
	return s.updateIf("swap refresh token",
		s.accounts(ctx).Where("id = ? AND refresh_token_hash = ?", id, oldHash),
		map[string]any{
			"refresh_token_hash":   newHash,
			"refresh_token_prefix": newPrefix,
		})
}

// ClearRefreshToken empties the refresh slot. Missing accounts are not an error.
func (s *Store) ClearRefreshToken(ctx context.Context, id string) error {
	if err := s.accounts(ctx).Where("id = ?", id).Updates(RefreshClearedUpdates()).Error; err != nil {
		return fmt.Errorf("credentials: clear refresh token: %w", err)
	}
	return nil
}

// FindByRefreshPrefix returns the bounded candidate set sharing a refresh prefix.
func (s *Store) FindByRefreshPrefix(ctx context.Context, prefix string) ([]models.Account, error) {
	return s.findByPrefix(ctx, "refresh_token_prefix", "refresh_token_hash", prefix)
}

// SetPasswordHash overwrites the stored password credential.
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.updateExisting(ctx, "set password hash", id, map[string]any{"password_hash": hash})
}

// SwapPasswordHash replaces the password credential only if it still equals old.
func (s *Store) SwapPasswordHash(ctx context.Context, id, old, replacement string) (bool, error) {
	return s.updateIf("swap password hash",
		s.accounts(ctx).Where("id = ? AND password_hash = ?", id, old),
		map[string]any{"password_hash": replacement})
}

// SetPendingTOTP stores an encrypted enrollment secret, replacing any earlier one.
// Accounts with two-factor already enabled are left untouched and reported as false.
func (s *Store) SetPendingTOTP(ctx context.Context, id, encryptedSecret string) (bool, error) {
	return s.updateIf("set pending totp",
		s.accounts(ctx).Where("id = ? AND totp_enabled = ?", id, false),
		map[string]any{"totp_pending_secret": encryptedSecret})
}

// PromoteTOTP moves the pending secret to the active slot if it still equals pending.
func (s *Store) PromoteTOTP(ctx context.Context, id, pending string) (bool, error) {
	if pending == "" {
		return false, nil
	}
	return s.updateIf("promote totp",
		s.accounts(ctx).Where("id = ? AND totp_pending_secret = ? AND totp_enabled = ?", id, pending, false),
		map[string]any{
			"totp_secret":         pending,
			"totp_pending_secret": "",
			"totp_enabled":        true,
		})
}

// DisableTOTP clears every two-factor column.
func (s *Store) DisableTOTP(ctx context.Context, id string) error {
	return s.updateExisting(ctx, "disable totp", id, map[string]any{
		"totp_secret":         "",
		"totp_pending_secret": "",
		"totp_enabled":        false,
	})
}

// SetFamily links the account to a family, or unlinks it when familyID is nil.
func (s *Store) SetFamily(ctx context.Context, id string, familyID *string) error {
	if err := s.accounts(ctx).Where("id = ?", id).Update("family_id", familyID).Error; err != nil {
		return fmt.Errorf("credentials: set family: %w", err)
	}
	return nil
}

// Delete removes the account row. It reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{})
	if result.Error != nil {
		return false, fmt.Errorf("credentials: delete account: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SweepStats counts slots cleared per class by SweepExpired.
type SweepStats map[models.TokenClass]int64

// Total sums every class.
func (s SweepStats) Total() int64 {
	var total int64
	for _, n := range s {
		total += n
	}
	return total
}

// SweepExpired clears every pending slot whose expiry is at or before now.
// Unexpired slots and refresh tokens are never touched.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (SweepStats, error) {
	// sqlite keeps datetimes as offset-bearing text; bind the cutoff in the
	// zone the expiries were written in so the comparison orders instants.
	now = now.UTC()
	stats := make(SweepStats, len(models.TokenClasses()))
	for _, class := range models.TokenClasses() {
		cols, err := columnsFor(class)
		if err != nil {
			return stats, err
		}
		result := s.accounts(ctx).
			Where(cols.expires+" IS NOT NULL AND "+cols.expires+" <= ?", now).
			Updates(cols.cleared())
		if result.Error != nil {
			return stats, fmt.Errorf("credentials: sweep %s: %w", class, result.Error)
		}
		stats[class] = result.RowsAffected
	}
	return stats, nil
}

func (s *Store) findByPrefix(ctx context.Context, prefixColumn, hashColumn, prefix string) ([]models.Account, error) {
	if prefix == "" {
		return nil, nil
	}
	var accounts []models.Account
	if err := s.db.WithContext(ctx).
		Where(prefixColumn+" = ? AND "+hashColumn+" IS NOT NULL", prefix).
		Order("id").
		Limit(s.maxCandidates).
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("credentials: find by prefix: %w", err)
	}
	return accounts, nil
}

func (s *Store) updateExisting(ctx context.Context, op, id string, updates map[string]any) error {
	ok, err := s.updateIf(op, s.accounts(ctx).Where("id = ?", id), updates)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) updateIf(op string, scope *gorm.DB, updates map[string]any) (bool, error) {
	result := scope.Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("credentials: %s: %w", op, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RefreshClearedUpdates returns the column updates that empty the refresh slot,
// for callers that combine them with a token consumption.
func RefreshClearedUpdates() map[string]any {
	return map[string]any{"refresh_token_hash": nil, "refresh_token_prefix": nil}
}
