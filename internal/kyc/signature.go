package kyc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook header names and freshness bound used by the provider.
const (
	SignatureHeader = "x-signature"
	TimestampHeader = "x-timestamp"

	DefaultMaxSkew = 300 * time.Second
)

// VerifySignature authenticates a webhook delivery. It must be called on
// the raw, unparsed request body: any re-serialization changes the bytes
// and invalidates the signature.
//
// Fails closed: missing body, header or secret rejects. The timestamp must
// be an integer Unix epoch within maxSkew of now (|now-ts| > maxSkew
// rejects; exactly maxSkew is accepted). The signature is a hex-encoded
// HMAC-SHA256 of the body, compared in constant time.
func VerifySignature(rawBody []byte, signature, timestamp string, secret []byte, now time.Time, maxSkew time.Duration) bool {
	if len(rawBody) == 0 || signature == "" || timestamp == "" || len(secret) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(maxSkew/time.Second) {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time and treats length mismatch as plain
	// inequality rather than a panic.
	return hmac.Equal([]byte(expected), []byte(signature))
}
