// Package signature implements HMAC-SHA256 webhook signature
// verification in the format GitHub sends it.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Verify checks header against the HMAC-SHA256 of body under secret.
// The header must be formatted as "sha256=<hex>"; anything else is
// rejected. Comparison is constant-time.
func Verify(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, prefix) {
		return false
	}

	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(mac.Sum(nil), got)
}

// Compute returns the signature header value for body under secret.
func Compute(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}
