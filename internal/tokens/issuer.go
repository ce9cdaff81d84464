// Package tokens issues and redeems single-use pending tokens. Raw tokens are
// handed to the caller once; only their Argon2id hash and keyed lookup prefix
// are persisted.
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
)

// Issuer mints pending tokens into account slots.
type Issuer struct {
	store  *credentials.Store
	hasher *crypto.Hasher
	codec  *crypto.TokenCodec
	opts   options
	log    *zap.Logger
}

// NewIssuer constructs an Issuer.
func NewIssuer(store *credentials.Store, hasher *crypto.Hasher, codec *crypto.TokenCodec, opts ...Option) (*Issuer, error) {
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

	return &Issuer{store: store, hasher: hasher, codec: codec, opts: cfg, log: cfg.log}, nil
}

// TTL returns the configured lifetime for class.
func (i *Issuer) TTL(class models.TokenClass) time.Duration {
	return i.opts.ttls[class]
}

// Issue generates a fresh token for the account and class, superseding any
// outstanding token of that class. The raw token is returned exactly once.
func (i *Issuer) Issue(ctx context.Context, accountID string, class models.TokenClass) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", credentials.ErrAccountNotFound
	}
	if !class.Valid() {
		return "", fmt.Errorf("%w: %q", credentials.ErrUnknownTokenClass, class)
	}

	raw, err := crypto.GenerateToken(i.opts.tokenBytes)
	if err != nil {
		return "", fmt.Errorf("tokens: generate: %w", err)
	}

	hash, err := i.hasher.Hash([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("tokens: hash: %w", err)
	}

	expiresAt := i.opts.now().UTC().Add(i.TTL(class))
	if err := i.store.SetPendingToken(ctx, accountID, class, models.PendingToken{
		Hash:      hash,
		Prefix:    i.codec.Prefix(raw),
		ExpiresAt: expiresAt,
	}); err != nil {
		if errors.Is(err, credentials.ErrAccountNotFound) {
			return "", err
		}
		return "", fmt.Errorf("tokens: store %s token: %w", class, err)
	}

	i.log.Debug("pending token issued",
		zap.String("account_id", accountID),
		zap.String("class", string(class)),
		zap.Time("expires_at", expiresAt),
	)
	return raw, nil
}
