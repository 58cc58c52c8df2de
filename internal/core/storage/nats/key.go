package nats

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/syntrixbase/catalog/internal/core/meta"
)

// EncodeKey maps a catalog key onto the bucket key alphabet. Bytes outside
// [-/_a-zA-Z0-9] become "=XX"; '.' is escaped too since it separates subject
// tokens.
func EncodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(encoded string) (string, error) {
	if !strings.Contains(encoded, "=") {
		return encoded, nil
	}
	var b strings.Builder
	b.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '=' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(encoded) {
			return "", fmt.Errorf("%w: truncated escape in %q", meta.ErrInvalidKey, encoded)
		}
		raw, err := hex.DecodeString(encoded[i+1 : i+3])
		if err != nil {
			return "", fmt.Errorf("%w: bad escape in %q", meta.ErrInvalidKey, encoded)
		}
		b.WriteByte(raw[0])
		i += 2
	}
	return b.String(), nil
}

func isPlain(c byte) bool {
	return c == '-' || c == '/' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
