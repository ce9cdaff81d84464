package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/models"
)

// Settings keys for secrets that must survive restarts. Rotating the token
// prefix secret orphans every outstanding token.
const (
	JWTSecretSetting         = "auth.jwt.secret"
	TokenPrefixSecretSetting = "auth.tokens.prefix_secret"
	TOTPEncryptionKeySetting = "auth.totp.encryption_key"
)

// GetSetting returns the stored value for key, or "" when absent.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errors.New("settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("settings: get %q: %w", key, err)
	}
}

// PutSetting stores or replaces the value for key.
func PutSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return errors.New("settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("settings: put %q: %w", key, err)
	}
	return nil
}

// EnsureSecret resolves a secret in priority order: the configured value,
// then the persisted value, then a freshly generated one which is persisted.
// A configured value always wins and is written through so later restarts
// without configuration keep using it.
func EnsureSecret(ctx context.Context, db *gorm.DB, key, configured string, generate func() (string, error)) (string, error) {
	configured = strings.TrimSpace(configured)

	stored, err := GetSetting(ctx, db, key)
	if err != nil {
		return "", err
	}

	if configured != "" {
		if configured != stored {
			if err := PutSetting(ctx, db, key, configured); err != nil {
				return "", err
			}
		}
		return configured, nil
	}

	if stored != "" {
		return stored, nil
	}

	if generate == nil {
		return "", fmt.Errorf("settings: %q has no value and no generator", key)
	}
	fresh, err := generate()
	if err != nil {
		return "", fmt.Errorf("settings: generate %q: %w", key, err)
	}
	if err := PutSetting(ctx, db, key, fresh); err != nil {
		return "", err
	}
	return fresh, nil
}
