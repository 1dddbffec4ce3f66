// Package webhook implements the outbound delivery pipeline: payload
// signing, single bounded HTTP attempts, retry coordination with
// exponential backoff, event fan-out, and delivery statistics.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
// Deterministic: the same body and secret always yield the same digest,
// which matters because retries resend the identical bytes and are not
// re-signed with fresh material.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature over the raw body.
// Receivers use the same routine to authenticate callbacks.
func VerifySignature(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), b)
}
