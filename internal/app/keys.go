package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// Hex is tried first since generated secrets are hex encoded. Anything that
// is neither is used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	return []byte(v), nil
}

// DecodeKeyOfLength decodes value and checks it against the accepted byte lengths.
func DecodeKeyOfLength(name, value string, lengths ...int) ([]byte, error) {
	key, err := DecodeKey(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(lengths) == 0 {
		return key, nil
	}
	for _, n := range lengths {
		if len(key) == n {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%s: decoded key is %d bytes, want one of %v", name, len(key), lengths)
}
