package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/internal/models"
	"github.com/charlesng35/hearth/pkg/crypto"
	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/metrics"
)

// DefaultRefreshTokenBytes is the entropy of a raw refresh token.
const DefaultRefreshTokenBytes = 32

// ErrRefreshTokenInvalid covers unknown, superseded, revoked and concurrently rotated refresh tokens.
var ErrRefreshTokenInvalid = errors.New("refresh: invalid token")

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshOption customises the RefreshService.
type RefreshOption func(*RefreshService)

// WithRefreshTokenBytes adjusts the size of generated refresh tokens.
func WithRefreshTokenBytes(n int) RefreshOption {
	return func(s *RefreshService) {
		if n >= 16 {
			s.tokenBytes = n
		}
	}
}

// WithRefreshLogger overrides the module logger.
func WithRefreshLogger(log *zap.Logger) RefreshOption {
	return func(s *RefreshService) {
		if log != nil {
			s.log = log
		}
	}
}

// RefreshService keeps at most one live refresh token per account and rotates it on use.
type RefreshService struct {
	store      *credentials.Store
	hasher     *crypto.Hasher
	codec      *crypto.TokenCodec
	jwt        *JWTService
	tokenBytes int
	log        *zap.Logger
}

// NewRefreshService constructs a RefreshService.
func NewRefreshService(store *credentials.Store, hasher *crypto.Hasher, codec *crypto.TokenCodec, jwtService *JWTService, opts ...RefreshOption) (*RefreshService, error) {
	if store == nil || hasher == nil || codec == nil || jwtService == nil {
		return nil, errors.New("refresh service: store, hasher, codec and jwt service are required")
	}

	svc := &RefreshService{
		store:      store,
		hasher:     hasher,
		codec:      codec,
		jwt:        jwtService,
		tokenBytes: DefaultRefreshTokenBytes,
		log:        logger.WithModule("refresh"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IssueFor generates a refresh token for the account, replacing any existing one.
func (s *RefreshService) IssueFor(ctx context.Context, accountID string) (string, error) {
	raw, hash, prefix, err := s.mint()
	if err != nil {
		return "", err
	}
	if err := s.store.SetRefreshToken(ctx, accountID, hash, prefix); err != nil {
		if errors.Is(err, credentials.ErrAccountNotFound) {
			return "", err
		}
		return "", fmt.Errorf("refresh service: store token: %w", err)
	}
	return raw, nil
}

// IssuePair issues a refresh token and a matching access token.
func (s *RefreshService) IssuePair(ctx context.Context, account *models.Account) (TokenPair, error) {
	if account == nil {
		return TokenPair{}, credentials.ErrAccountNotFound
	}

	access, err := s.accessToken(account)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.IssueFor(ctx, account.ID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.expiresIn()}, nil
}

// Rotate redeems raw and returns a fresh pair. The stored token is swapped
// only if it still holds the presented hash, so of two concurrent rotations
// with the same token exactly one succeeds. Failures before the swap leave
// the presented token valid.
func (s *RefreshService) Rotate(ctx context.Context, raw string) (TokenPair, error) {
	pair, err := s.rotate(ctx, raw)
	metrics.RefreshRotations.WithLabelValues(rotationResult(err)).Inc()
	return pair, err
}

func (s *RefreshService) rotate(ctx context.Context, raw string) (TokenPair, error) {
	account, err := s.match(ctx, raw)
	if err != nil {
		return TokenPair{}, err
	}

	access, err := s.accessToken(account)
	if err != nil {
		return TokenPair{}, err
	}

	next, hash, prefix, err := s.mint()
	if err != nil {
		return TokenPair{}, err
	}

	swapped, err := s.store.SwapRefreshToken(ctx, account.ID, *account.RefreshTokenHash, hash, prefix)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: swap token: %w", err)
	}
	if !swapped {
		s.log.Info("refresh token rotated concurrently", zap.String("account_id", account.ID))
		return TokenPair{}, ErrRefreshTokenInvalid
	}

	return TokenPair{AccessToken: access, RefreshToken: next, ExpiresIn: s.expiresIn()}, nil
}

// Revoke clears the account's refresh token. Revoking twice, or revoking a
// missing account, is not an error.
func (s *RefreshService) Revoke(ctx context.Context, accountID string) error {
	if err := s.store.ClearRefreshToken(ctx, accountID); err != nil {
		return fmt.Errorf("refresh service: revoke: %w", err)
	}
	return nil
}

func (s *RefreshService) match(ctx context.Context, raw string) (*models.Account, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrRefreshTokenInvalid
	}

	candidates, err := s.store.FindByRefreshPrefix(ctx, s.codec.Prefix(raw))
	if err != nil {
		return nil, fmt.Errorf("refresh service: lookup: %w", err)
	}

	for idx := range candidates {
		account := &candidates[idx]
		if account.RefreshTokenHash == nil {
			continue
		}
		if s.hasher.Verify(*account.RefreshTokenHash, []byte(raw)) {
			return account, nil
		}
	}
	return nil, ErrRefreshTokenInvalid
}

func (s *RefreshService) mint() (raw, hash, prefix string, err error) {
	raw, err = crypto.GenerateToken(s.tokenBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("refresh service: generate token: %w", err)
	}
	hash, err = s.hasher.Hash([]byte(raw))
	if err != nil {
		return "", "", "", fmt.Errorf("refresh service: hash token: %w", err)
	}
	return raw, hash, s.codec.Prefix(raw), nil
}

func (s *RefreshService) accessToken(account *models.Account) (string, error) {
	token, err := s.jwt.GenerateAccessToken(AccessTokenInput{AccountID: account.ID, Admin: account.IsAdmin})
	if err != nil {
		return "", fmt.Errorf("refresh service: access token: %w", err)
	}
	return token, nil
}

func (s *RefreshService) expiresIn() int {
	return int(s.jwt.TTL().Seconds())
}

func rotationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRefreshTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
