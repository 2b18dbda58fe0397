package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID used as a row primary key.
func NewID() string {
	return uuid.NewString()
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// ReferralCode is short enough to type by hand.
func ReferralCode() string {
	return RandomHex(8)
}

// ShareToken grants unauthenticated read access to one file, so it carries 256 bits.
func ShareToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}
