package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/database"
)

const (
	jwtSecretBytes    = 48
	prefixSecretBytes = 32
	totpKeyBytes      = 32
)

type runtimeSecret struct {
	setting string
	bytes   int
	target  func(*Config) *string
}

var runtimeSecrets = []runtimeSecret{
	{database.JWTSecretSetting, jwtSecretBytes, func(c *Config) *string { return &c.Auth.JWT.Secret }},
	{database.TokenPrefixSecretSetting, prefixSecretBytes, func(c *Config) *string { return &c.Auth.Tokens.PrefixSecret }},
	{database.TOTPEncryptionKeySetting, totpKeyBytes, func(c *Config) *string { return &c.Auth.TOTP.EncryptionKey }},
}

// ApplyRuntimeDefaults fills the JWT secret, token prefix key and TOTP
// encryption key. Explicit configuration wins, then values persisted in the
// settings table by an earlier run, then freshly generated ones, which are
// stored so a restart keeps outstanding tokens valid. The returned map names
// the keys that were generated without exposing their values.
func ApplyRuntimeDefaults(ctx context.Context, cfg *Config, db *gorm.DB) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database is nil")
	}

	generated := make(map[string]bool)
	for _, secret := range runtimeSecrets {
		target := secret.target(cfg)
		configured := strings.TrimSpace(*target)

		made := false
		value, err := database.EnsureSecret(ctx, db, secret.setting, configured, func() (string, error) {
			made = true
			return generateHexKey(secret.bytes)
		})
		if err != nil {
			return nil, fmt.Errorf("ensure %s: %w", secret.setting, err)
		}
		*target = value
		if made {
			generated[secret.setting] = true
		}
	}
	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
