package kyc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"session_id":"abc","status":"approved"}`)
	now := time.Unix(1700000000, 0)
	ts := fmt.Sprintf("%d", now.Unix())

	t.Run("valid", func(t *testing.T) {
		if !VerifySignature(body, sign(body, secret), ts, secret, now, DefaultMaxSkew) {
			t.Fatal("valid signature rejected")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte(nil), body...)
		tampered[10] ^= 1
		if VerifySignature(tampered, sign(body, secret), ts, secret, now, DefaultMaxSkew) {
			t.Fatal("tampered body accepted")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if VerifySignature(body, sign(body, []byte("other")), ts, secret, now, DefaultMaxSkew) {
			t.Fatal("signature from wrong secret accepted")
		}
	})

	t.Run("length mismatch is rejection not panic", func(t *testing.T) {
		if VerifySignature(body, "deadbeef", ts, secret, now, DefaultMaxSkew) {
			t.Fatal("short signature accepted")
		}
	})

	t.Run("fails closed on missing inputs", func(t *testing.T) {
		if VerifySignature(nil, sign(body, secret), ts, secret, now, DefaultMaxSkew) {
			t.Error("empty body accepted")
		}
		if VerifySignature(body, "", ts, secret, now, DefaultMaxSkew) {
			t.Error("empty signature accepted")
		}
		if VerifySignature(body, sign(body, secret), "", secret, now, DefaultMaxSkew) {
			t.Error("empty timestamp accepted")
		}
		if VerifySignature(body, sign(body, secret), ts, nil, now, DefaultMaxSkew) {
			t.Error("empty secret accepted")
		}
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		if VerifySignature(body, sign(body, secret), "not-a-number", secret, now, DefaultMaxSkew) {
			t.Fatal("non-numeric timestamp accepted")
		}
	})
}

func TestVerifySignatureSkew(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"session_id":"abc"}`)
	now := time.Unix(1700000000, 0)
	signature := sign(body, secret)

	skewCases := []struct {
		name   string
		offset int64
		want   bool
	}{
		{"299s old", -299, true},
		{"300s old boundary", -300, true},
		{"301s old", -301, false},
		{"299s in future", 299, true},
		{"301s in future", 301, false},
	}

	for _, tc := range skewCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := fmt.Sprintf("%d", now.Unix()+tc.offset)
			got := VerifySignature(body, signature, ts, secret, now, DefaultMaxSkew)
			if got != tc.want {
				t.Errorf("offset %ds: got %v, want %v", tc.offset, got, tc.want)
			}
		})
	}
}
