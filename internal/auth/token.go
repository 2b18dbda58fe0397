// Package auth signs and verifies the opaque session id carried in the session cookie.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// SignSessionID returns "sid.signature" for use as a cookie value.
func SignSessionID(secret []byte, sessionID string) string {
	return sessionID + "." + sign(secret, sessionID)
}

// VerifySessionID checks the signature and returns the bare session id.
func VerifySessionID(secret []byte, value string) (string, error) {
	idx := strings.LastIndex(value, ".")
	if idx <= 0 || idx == len(value)-1 {
		return "", ErrInvalidToken
	}
	sessionID := value[:idx]
	signature := value[idx+1:]

	expected := sign(secret, sessionID)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidToken
	}
	return sessionID, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken is used as the storage key so a leaked store does not leak live cookies.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
