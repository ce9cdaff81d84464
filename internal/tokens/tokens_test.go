package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/database/testutil"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/pkg/crypto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *credentials.Store
	issuer   *Issuer
	verifier *Verifier
	clock    *fakeClock
	account  *models.Account
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := credentials.NewStore(db)
	require.NoError(t, err)

	hasher, err := crypto.NewHasher(crypto.HashParams{Time: 1, Memory: 1024, Threads: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	codec, err := crypto.NewTokenCodec([]byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	issuer, err := NewIssuer(store, hasher, codec, opts...)
	require.NoError(t, err)
	verifier, err := NewVerifier(store, hasher, codec, opts...)
	require.NoError(t, err)

	account := &models.Account{Email: "user@example.com", PasswordHash: "original"}
	require.NoError(t, store.Create(context.Background(), account))

	return &fixture{store: store, issuer: issuer, verifier: verifier, clock: clock, account: account}
}

func TestNewIssuerRequiresDependencies(t *testing.T) {
	_, err := NewIssuer(nil, nil, nil)
	require.Error(t, err)
	_, err = NewVerifier(nil, nil, nil)
	require.Error(t, err)
}

func TestIssueStoresHashNotRawToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassEmailVerification)
	require.NoError(t, err)
	require.Len(t, raw, 43, "32 random bytes in unpadded base64url")

	stored, err := f.store.FindByID(ctx, f.account.ID)
	require.NoError(t, err)
	pending := stored.Pending(models.TokenClassEmailVerification)
	require.NotNil(t, pending)
	require.NotEqual(t, raw, pending.Hash)
	require.True(t, crypto.IsHash(pending.Hash))
	require.Len(t, pending.Prefix, crypto.DefaultPrefixLength)
	require.True(t, pending.ExpiresAt.Equal(f.clock.Now().Add(DefaultEmailVerificationTTL)))
}

func TestIssueUsesPerClassExpiry(t *testing.T) {
	f := newFixture(t, WithExpiry(models.TokenClassEmailVerification, 2*time.Hour))
	require.Equal(t, 2*time.Hour, f.issuer.TTL(models.TokenClassEmailVerification))
	require.Equal(t, DefaultPasswordResetTTL, f.issuer.TTL(models.TokenClassPasswordReset))
}

func TestIssueUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.Issue(context.Background(), "missing", models.TokenClassPasswordReset)
	require.ErrorIs(t, err, credentials.ErrAccountNotFound)

	_, err = f.issuer.Issue(context.Background(), f.account.ID, models.TokenClass("bogus"))
	require.ErrorIs(t, err, credentials.ErrUnknownTokenClass)
}

func TestRedeemSucceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassEmailVerification)
	require.NoError(t, err)

	verify := func(*models.Account) (map[string]any, error) {
		return map[string]any{"email_verified": true}, nil
	}

	account, err := f.verifier.Redeem(ctx, raw, models.TokenClassEmailVerification, verify)
	require.NoError(t, err)
	require.True(t, account.EmailVerified)
	require.Nil(t, account.Pending(models.TokenClassEmailVerification))

	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassEmailVerification, verify)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRedeemRejectsTokenOfAnotherClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassEmailVerification)
	require.NoError(t, err)

	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassPasswordReset, nil)
	require.ErrorIs(t, err, ErrInvalidToken)

	// The original slot is untouched.
	_, err = f.verifier.Check(ctx, raw, models.TokenClassEmailVerification)
	require.NoError(t, err)
}

func TestRedeemRejectsEmptyAndUnknownTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.verifier.Redeem(ctx, "", models.TokenClassPasswordReset, nil)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.verifier.Redeem(ctx, "not-a-real-token", models.TokenClassPasswordReset, nil)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestReissueSupersedesPreviousToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)
	second, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = f.verifier.Redeem(ctx, first, models.TokenClassPasswordReset, nil)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.verifier.Redeem(ctx, second, models.TokenClassPasswordReset, nil)
	require.NoError(t, err)
}

func TestExpiredTokenLeavesAccountUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)

	f.clock.Advance(DefaultPasswordResetTTL + time.Second)

	applied := false
	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassPasswordReset, func(*models.Account) (map[string]any, error) {
		applied = true
		return map[string]any{"password_hash": "changed"}, nil
	})
	require.ErrorIs(t, err, ErrTokenExpired)
	require.False(t, applied)

	stored, err := f.store.FindByID(ctx, f.account.ID)
	require.NoError(t, err)
	require.Equal(t, "original", stored.PasswordHash)
	require.NotNil(t, stored.Pending(models.TokenClassPasswordReset), "slot is left for the sweeper")
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)

	f.clock.Advance(DefaultPasswordResetTTL)
	_, err = f.verifier.Check(ctx, raw, models.TokenClassPasswordReset)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestPurgeExpiredClearsSlot(t *testing.T) {
	f := newFixture(t, WithPurgeExpired(true))
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassEmailVerification)
	require.NoError(t, err)

	f.clock.Advance(DefaultEmailVerificationTTL + time.Minute)
	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassEmailVerification, nil)
	require.ErrorIs(t, err, ErrTokenExpired)

	stored, err := f.store.FindByID(ctx, f.account.ID)
	require.NoError(t, err)
	require.Nil(t, stored.Pending(models.TokenClassEmailVerification))

	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassEmailVerification, nil)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		account, err := f.verifier.Check(ctx, raw, models.TokenClassPasswordReset)
		require.NoError(t, err)
		require.Equal(t, f.account.ID, account.ID)
	}
}

func TestEffectErrorAbortsConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassPasswordReset)
	require.NoError(t, err)

	boom := context.DeadlineExceeded
	_, err = f.verifier.Redeem(ctx, raw, models.TokenClassPasswordReset, func(*models.Account) (map[string]any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.verifier.Check(ctx, raw, models.TokenClassPasswordReset)
	require.NoError(t, err, "token stays valid after a failed effect")
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.issuer.Issue(ctx, f.account.ID, models.TokenClassEmailVerification)
	require.NoError(t, err)

	const workers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verifier.Redeem(ctx, raw, models.TokenClassEmailVerification, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrInvalidToken):
				invalid++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, success)
	require.Equal(t, workers-1, invalid)
}
