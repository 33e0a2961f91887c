// Package signature computes HMAC-SHA256 signatures for webhook payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header carries the payload signature on outgoing webhook requests.
const Header = "X-Webhook-Signature"

// Sign computes the HMAC-SHA256 of payload keyed by secret and returns it
// in the wire format "sha256=<hex>". The payload must be the exact byte
// sequence sent on the wire, never a re-serialization, or the receiver's
// verification will not match.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for payload under secret.
// Comparison is constant-time.
func Verify(secret string, payload []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(sig))
}
