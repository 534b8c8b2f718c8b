package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"
)

// verifyHMAC checks an HMAC-SHA256 signature over the raw webhook body.
// The header value may be hex or base64 encoded; comparison is constant
// time either way.
func verifyHMAC(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil {
		return hmac.Equal(decoded, expected)
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		return hmac.Equal(decoded, expected)
	}
	return false
}

// verifySharedToken compares a static webhook token header against the
// configured secret in constant time.
func verifySharedToken(presented, secret string) bool {
	presented = strings.TrimSpace(presented)
	if presented == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(presented), []byte(secret))
}

// acceptUnsigned applies the policy for webhooks arriving while no
// secret is configured: accepted in sandbox, rejected in production,
// logged in both cases.
func acceptUnsigned(logger logrus.FieldLogger, slug string, allow bool) bool {
	entry := logger.WithFields(logrus.Fields{"provider": slug, "signed": false})
	if allow {
		entry.Warn("webhook secret not configured, accepting unsigned webhook")
		return true
	}
	entry.Warn("webhook secret not configured, rejecting unsigned webhook")
	return false
}
