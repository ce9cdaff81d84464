package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/database/testutil"
	"github.com/charlesng35/hearth/internal/models"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewStore(db, opts...)
	require.NoError(t, err)
	return store
}

func createAccount(t *testing.T, store *Store, email string) *models.Account {
	t.Helper()
	account := &models.Account{Email: email, PasswordHash: "hash"}
	require.NoError(t, store.Create(context.Background(), account))
	return account
}

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestCreateNormalisesAndRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := createAccount(t, store, "  Alice@Example.COM ")
	require.Equal(t, "alice@example.com", account.Email)
	require.NotEmpty(t, account.ID)

	err := store.Create(ctx, &models.Account{Email: "alice@example.com"})
	require.ErrorIs(t, err, ErrEmailTaken)

	found, err := store.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, account.ID, found.ID)

	require.Error(t, store.Create(ctx, &models.Account{Email: "   "}))
}

func TestFindMissingAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindByID(ctx, "missing")
	require.ErrorIs(t, err, ErrAccountNotFound)

	_, err = store.FindByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPendingTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "bob@example.com")
	expires := time.Now().UTC().Add(time.Hour)

	require.NoError(t, store.SetPendingToken(ctx, account.ID, models.TokenClassPasswordReset, models.PendingToken{
		Hash: "h1", Prefix: "abcd1234", ExpiresAt: expires,
	}))

	candidates, err := store.FindByPendingPrefix(ctx, models.TokenClassPasswordReset, "abcd1234")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	pending := candidates[0].Pending(models.TokenClassPasswordReset)
	require.NotNil(t, pending)
	require.Equal(t, "h1", pending.Hash)

	// Same prefix in another class slot is a different index.
	candidates, err = store.FindByPendingPrefix(ctx, models.TokenClassEmailVerification, "abcd1234")
	require.NoError(t, err)
	require.Empty(t, candidates)

	ok, err := store.ConsumePendingToken(ctx, account.ID, models.TokenClassPasswordReset, "wrong", nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.ConsumePendingToken(ctx, account.ID, models.TokenClassPasswordReset, "h1", map[string]any{
		"password_hash": "new-hash",
	})
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.Pending(models.TokenClassPasswordReset))
	require.Nil(t, reloaded.PasswordResetExpiresAt)
	require.Equal(t, "new-hash", reloaded.PasswordHash)

	ok, err = store.ConsumePendingToken(ctx, account.ID, models.TokenClassPasswordReset, "h1", nil)
	require.NoError(t, err)
	require.False(t, ok, "second consumption must lose")
}

func TestConsumeCannotOverrideSlotColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "carol@example.com")

	require.NoError(t, store.SetPendingToken(ctx, account.ID, models.TokenClassEmailVerification, models.PendingToken{
		Hash: "h", Prefix: "p", ExpiresAt: time.Now().Add(time.Hour),
	}))

	ok, err := store.ConsumePendingToken(ctx, account.ID, models.TokenClassEmailVerification, "h", map[string]any{
		"email_verification_hash": "sneaky",
		"email_verified":          true,
	})
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.EmailVerificationHash)
	require.Nil(t, reloaded.EmailVerificationPrefix)
	require.True(t, reloaded.EmailVerified)
}

func TestSetPendingTokenOverwritesAndUnknownAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "dave@example.com")
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.SetPendingToken(ctx, account.ID, models.TokenClassEmailVerification, models.PendingToken{Hash: "a", Prefix: "pa", ExpiresAt: expires}))
	require.NoError(t, store.SetPendingToken(ctx, account.ID, models.TokenClassEmailVerification, models.PendingToken{Hash: "b", Prefix: "pb", ExpiresAt: expires}))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "b", reloaded.Pending(models.TokenClassEmailVerification).Hash)

	err = store.SetPendingToken(ctx, "missing", models.TokenClassEmailVerification, models.PendingToken{Hash: "x", Prefix: "y", ExpiresAt: expires})
	require.ErrorIs(t, err, ErrAccountNotFound)

	err = store.SetPendingToken(ctx, account.ID, models.TokenClass("bogus"), models.PendingToken{})
	require.ErrorIs(t, err, ErrUnknownTokenClass)
}

func TestFindByPrefixIsBounded(t *testing.T) {
	store := newTestStore(t, WithMaxCandidates(2))
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		account := createAccount(t, store, email)
		require.NoError(t, store.SetPendingToken(ctx, account.ID, models.TokenClassEmailVerification, models.PendingToken{
			Hash: "h-" + email, Prefix: "shared", ExpiresAt: expires,
		}))
	}

	candidates, err := store.FindByPendingPrefix(ctx, models.TokenClassEmailVerification, "shared")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	candidates, err = store.FindByPendingPrefix(ctx, models.TokenClassEmailVerification, "")
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestRefreshSlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "erin@example.com")

	require.NoError(t, store.SetRefreshToken(ctx, account.ID, "r1", "pr1"))

	candidates, err := store.FindByRefreshPrefix(ctx, "pr1")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	ok, err := store.SwapRefreshToken(ctx, account.ID, "stale", "r2", "pr2")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.SwapRefreshToken(ctx, account.ID, "r1", "r2", "pr2")
	require.NoError(t, err)
	require.True(t, ok)

	candidates, err = store.FindByRefreshPrefix(ctx, "pr1")
	require.NoError(t, err)
	require.Empty(t, candidates)

	require.NoError(t, store.ClearRefreshToken(ctx, account.ID))
	require.NoError(t, store.ClearRefreshToken(ctx, account.ID))
	require.NoError(t, store.ClearRefreshToken(ctx, "missing"))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.RefreshTokenHash)
	require.Nil(t, reloaded.RefreshTokenPrefix)
}

func TestPasswordSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "frank@example.com")

	ok, err := store.SwapPasswordHash(ctx, account.ID, "other", "new")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.SwapPasswordHash(ctx, account.ID, "hash", "new")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.SetPasswordHash(ctx, account.ID, "newer"))
	require.ErrorIs(t, store.SetPasswordHash(ctx, "missing", "x"), ErrAccountNotFound)

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "newer", reloaded.PasswordHash)
}

func TestTOTPColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "gina@example.com")

	ok, err := store.SetPendingTOTP(ctx, account.ID, "enc-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.PromoteTOTP(ctx, account.ID, "enc-0")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.PromoteTOTP(ctx, account.ID, "enc-1")
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, models.TwoFactorEnabled, reloaded.TwoFactorState())
	require.Equal(t, "enc-1", reloaded.TOTPSecret)
	require.Empty(t, reloaded.TOTPPendingSecret)

	ok, err = store.SetPendingTOTP(ctx, account.ID, "enc-2")
	require.NoError(t, err)
	require.False(t, ok, "enabled accounts cannot start a new enrollment")

	require.NoError(t, store.DisableTOTP(ctx, account.ID))
	reloaded, err = store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, models.TwoFactorDisabled, reloaded.TwoFactorState())
	require.Empty(t, reloaded.TOTPSecret)
}

func TestFamilyLinkAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "hank@example.com")

	familyID := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, store.SetFamily(ctx, account.ID, &familyID))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.FamilyID)
	require.Equal(t, familyID, *reloaded.FamilyID)

	require.NoError(t, store.SetFamily(ctx, account.ID, nil))
	reloaded, err = store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.FamilyID)

	removed, err := store.Delete(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = store.Delete(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestSweepExpiredClearsOnlyExpiredSlots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expired := createAccount(t, store, "old@example.com")
	fresh := createAccount(t, store, "new@example.com")

	require.NoError(t, store.SetPendingToken(ctx, expired.ID, models.TokenClassPasswordReset, models.PendingToken{
		Hash: "e", Prefix: "pe", ExpiresAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.SetPendingToken(ctx, expired.ID, models.TokenClassEmailVerification, models.PendingToken{
		Hash: "v", Prefix: "pv", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.SetRefreshToken(ctx, expired.ID, "r", "pr"))
	require.NoError(t, store.SetPendingToken(ctx, fresh.ID, models.TokenClassPasswordReset, models.PendingToken{
		Hash: "f", Prefix: "pf", ExpiresAt: now.Add(time.Hour),
	}))

	stats, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats[models.TokenClassPasswordReset])
	require.EqualValues(t, 1, stats[models.TokenClassEmailVerification])
	require.EqualValues(t, 2, stats.Total())

	reloaded, err := store.FindByID(ctx, expired.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.Pending(models.TokenClassPasswordReset))
	require.Nil(t, reloaded.Pending(models.TokenClassEmailVerification))
	require.NotNil(t, reloaded.RefreshTokenHash, "refresh slot has no expiry")

	untouched, err := store.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, untouched.Pending(models.TokenClassPasswordReset))

	stats, err = store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Zero(t, stats.Total())
}

func TestSweepExpiredIgnoresLocalZone(t *testing.T) {
	previous := time.Local
	time.Local = time.FixedZone("JST", 9*60*60)
	t.Cleanup(func() { time.Local = previous })

	store := newTestStore(t)
	ctx := context.Background()

	live := createAccount(t, store, "live@example.com")
	stale := createAccount(t, store, "stale@example.com")
	require.NoError(t, store.SetPendingToken(ctx, live.ID, models.TokenClassPasswordReset, models.PendingToken{
		Hash: "l", Prefix: "pl", ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	require.NoError(t, store.SetPendingToken(ctx, stale.ID, models.TokenClassPasswordReset, models.PendingToken{
		Hash: "s", Prefix: "ps", ExpiresAt: time.Now().Add(-time.Hour),
	}))

	stats, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats[models.TokenClassPasswordReset])

	reloaded, err := store.FindByID(ctx, live.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Pending(models.TokenClassPasswordReset), "token valid for another hour")

	reloaded, err = store.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.Pending(models.TokenClassPasswordReset))
}
