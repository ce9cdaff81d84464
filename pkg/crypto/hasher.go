package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashAlgorithm  = "argon2id"
	minSaltLength  = 16
	hashFieldCount = 6
)

// HashParams controls the cost factors for Argon2id secret hashing.
type HashParams struct {
	// Time is the number of iterations.
	Time uint32
	// Memory is the amount of memory (in kibibytes) to use.
	Memory uint32
	// Threads is the degree of parallelism.
	Threads uint8
	// SaltLength is the number of random salt bytes generated per hash.
	SaltLength uint32
	// KeyLength is the desired length of the derived key in bytes.
	KeyLength uint32
}

// DefaultHashParams returns parameters that keep a single verification well under 100ms.
func DefaultHashParams() HashParams {
	return HashParams{
		Time:       2,
		Memory:     64 * 1024, // 64 MiB
		Threads:    2,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// Validate ensures the parameters are suitable for Argon2id.
func (p HashParams) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	if p.SaltLength < minSaltLength {
		return fmt.Errorf("argon2: salt must be at least %d bytes (got %d)", minSaltLength, p.SaltLength)
	}
	switch p.KeyLength {
	case 16, 24, 32:
	default:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// Hasher produces self-describing Argon2id hashes for passwords and secret tokens.
// Encoded form: $argon2id$v=19$m=<kib>,t=<iter>,p=<threads>$<salt>$<key>.
type Hasher struct {
	params HashParams
	rand   io.Reader
}

// NewHasher validates params and returns a Hasher.
func NewHasher(params HashParams) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params, rand: rand.Reader}, nil
}

// Params returns the parameters new hashes are produced with.
func (h *Hasher) Params() HashParams {
	return h.params
}

// Hash derives a salted Argon2id hash of secret.
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("argon2: secret is required")
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	key := argon2.IDKey(secret, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		hashAlgorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. Malformed hashes never match.
func (h *Hasher) Verify(encoded string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}

	decoded, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(secret, decoded.salt, decoded.params.Time, decoded.params.Memory, decoded.params.Threads, uint32(len(decoded.key)))
	return subtle.ConstantTimeCompare(computed, decoded.key) == 1
}

// NeedsRehash reports whether encoded was produced with weaker parameters than the current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	decoded, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	p := decoded.params
	return p.Memory < h.params.Memory ||
		p.Time < h.params.Time ||
		p.Threads < h.params.Threads ||
		uint32(len(decoded.key)) != h.params.KeyLength
}

// IsHash reports whether value looks like a hash produced by a Hasher.
func IsHash(value string) bool {
	_, err := decodeHash(value)
	return err == nil
}

type decodedHash struct {
	params HashParams
	salt   []byte
	key    []byte
}

func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != hashFieldCount || parts[0] != "" {
		return nil, errors.New("argon2: invalid hash format")
	}
	if parts[1] != hashAlgorithm {
		return nil, errors.New("argon2: unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("argon2: invalid version")
	}
	if version != argon2.Version {
		return nil, errors.New("argon2: unsupported version")
	}

	var params HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return nil, fmt.Errorf("argon2: parse params: %w", err)
	}
	if params.Time == 0 || params.Threads == 0 || params.Memory < 8*uint32(params.Threads) {
		return nil, errors.New("argon2: invalid params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength {
		return nil, errors.New("argon2: invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errors.New("argon2: invalid key")
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return &decodedHash{params: params, salt: salt, key: key}, nil
}
