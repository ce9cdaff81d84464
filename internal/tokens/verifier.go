package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/metrics"
)

var (
	// ErrInvalidToken covers unknown, malformed, already-consumed and wrong-class tokens.
	ErrInvalidToken = errors.New("tokens: invalid token")
	// ErrTokenExpired indicates the token matched but its expiry has passed.
	ErrTokenExpired = errors.New("tokens: token expired")
)

// Effect computes extra column updates that are written in the same statement
// that consumes the token. It receives the matched account as it was read.
type Effect func(account *models.Account) (map[string]any, error)

// Verifier checks raw tokens against stored slots and consumes them.
type Verifier struct {
	store  *credentials.Store
	hasher *crypto.Hasher
	codec  *crypto.TokenCodec
	opts   options
	log    *zap.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(store *credentials.Store, hasher *crypto.Hasher, codec *crypto.TokenCodec, opts ...Option) (*Verifier, error) {
	if store == nil || hasher == nil || codec == nil {
		return nil, errors.New("tokens: store, hasher and codec are required")
	}

	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.WithModule("tokens")
	}

	return &Verifier{store: store, hasher: hasher, codec: codec, opts: cfg, log: cfg.log}, nil
}

// Check verifies raw without consuming it.
func (v *Verifier) Check(ctx context.Context, raw string, class models.TokenClass) (*models.Account, error) {
	start := time.Now()
	account, _, err := v.match(ctx, raw, class)
	v.observe(class, start, err)
	return account, err
}

// Redeem verifies raw and consumes it, applying effect atomically with the
// consumption. A token can be redeemed at most once: concurrent redeemers of
// the same token race on a conditional update and all but one observe
// ErrInvalidToken.
func (v *Verifier) Redeem(ctx context.Context, raw string, class models.TokenClass, effect Effect) (*models.Account, error) {
	start := time.Now()
	account, err := v.redeem(ctx, raw, class, effect)
	v.observe(class, start, err)
	return account, err
}

func (v *Verifier) redeem(ctx context.Context, raw string, class models.TokenClass, effect Effect) (*models.Account, error) {
	account, pending, err := v.match(ctx, raw, class)
	if err != nil {
		return nil, err
	}

	var extra map[string]any
	if effect != nil {
		extra, err = effect(account)
		if err != nil {
			return nil, err
		}
	}

	consumed, err := v.store.ConsumePendingToken(ctx, account.ID, class, pending.Hash, extra)
	if err != nil {
		return nil, fmt.Errorf("tokens: consume: %w", err)
	}
	if !consumed {
		v.log.Info("pending token consumed concurrently",
			zap.String("account_id", account.ID),
			zap.String("class", string(class)),
		)
		return nil, ErrInvalidToken
	}

	updated, err := v.store.FindByID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("tokens: reload account: %w", err)
	}
	return updated, nil
}

// match resolves raw to the account whose class slot holds it.
func (v *Verifier) match(ctx context.Context, raw string, class models.TokenClass) (*models.Account, *models.PendingToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrInvalidToken
	}
	if !class.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", credentials.ErrUnknownTokenClass, class)
	}

	candidates, err := v.store.FindByPendingPrefix(ctx, class, v.codec.Prefix(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("tokens: lookup: %w", err)
	}

	for idx := range candidates {
		account := &candidates[idx]
		pending := account.Pending(class)
		if pending == nil || !v.hasher.Verify(pending.Hash, []byte(raw)) {
			continue
		}

		if !v.opts.now().Before(pending.ExpiresAt) {
			v.purge(ctx, account.ID, class, pending.Hash)
			return nil, nil, ErrTokenExpired
		}
		return account, pending, nil
	}

	return nil, nil, ErrInvalidToken
}

func (v *Verifier) purge(ctx context.Context, accountID string, class models.TokenClass, hash string) {
	if !v.opts.purgeExpired {
		return
	}
	if _, err := v.store.ClearPendingToken(ctx, accountID, class, hash); err != nil {
		v.log.Warn("failed to clear expired token",
			zap.String("account_id", accountID),
			zap.String("class", string(class)),
			zap.Error(err),
		)
	}
}

func (v *Verifier) observe(class models.TokenClass, start time.Time, err error) {
	metrics.TokenVerification.
		WithLabelValues(string(class), resultLabel(err)).
		Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "error"
	}
}
