package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// DefaultPrefixLength is the number of hex characters kept from the HMAC digest.
	DefaultPrefixLength = 8

	minPrefixLength = 4
	maxPrefixLength = sha256.Size * 2
	minPrefixKeyLen = 16
)

// TokenCodec derives short, non-secret lookup prefixes from raw tokens so stored token
// hashes can be located without scanning or storing the raw value.
//
// The prefix only narrows a storage query. The Argon2id comparison remains the
// authorization check, so the prefix length is a tuning knob and not a security boundary.
// Changing the key makes every outstanding prefix unreachable.
type TokenCodec struct {
	key    []byte
	length int
}

// NewTokenCodec constructs a codec keyed with key, truncating prefixes to length hex characters.
// A non-positive length selects DefaultPrefixLength.
func NewTokenCodec(key []byte, length int) (*TokenCodec, error) {
	if len(key) < minPrefixKeyLen {
		return nil, fmt.Errorf("token codec: key must be at least %d bytes (got %d)", minPrefixKeyLen, len(key))
	}
	if length <= 0 {
		length = DefaultPrefixLength
	}
	if length < minPrefixLength || length > maxPrefixLength {
		return nil, fmt.Errorf("token codec: prefix length must be between %d and %d", minPrefixLength, maxPrefixLength)
	}

	cpy := make([]byte, len(key))
	copy(cpy, key)
	return &TokenCodec{key: cpy, length: length}, nil
}

// Prefix returns the lookup prefix for raw.
func (c *TokenCodec) Prefix(raw string) string {
	mac := hmac.New(sha256.New, c.key)
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))[:c.length]
}

// Length reports the prefix length in hex characters.
func (c *TokenCodec) Length() int {
	return c.length
}

