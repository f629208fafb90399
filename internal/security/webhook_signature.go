package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignWebhookPayload computes the hex HMAC-SHA256 of the raw request body
// under the provider's signing secret. Verification must run against the raw
// bytes before any JSON parsing.
func SignWebhookPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyWebhookSignature checks the provider signature header against the
// raw body in constant time. An empty secret never verifies.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" {
		return false
	}
	expected := SignWebhookPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
