package hashing

import (
	"errors"
	"strings"
	"testing"

	"kyc-service/internal/config"
)

func testHasher(pepper string) *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = pepper
	return NewHasher(cfg)
}

func TestHashDocumentNumber(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashDocumentNumber("X1234567")
	if err != nil {
		t.Fatalf("HashDocumentNumber: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id-v1$") {
		t.Fatalf("encoded = %q", encoded)
	}
	if strings.Contains(encoded, "X1234567") {
		t.Fatal("plaintext leaked into encoded hash")
	}

	t.Run("round trip", func(t *testing.T) {
		ok, err := h.VerifyDocumentNumber("X1234567", encoded)
		if err != nil {
			t.Fatalf("VerifyDocumentNumber: %v", err)
		}
		if !ok {
			t.Error("hash does not verify its own input")
		}
	})

	t.Run("wrong number", func(t *testing.T) {
		ok, err := h.VerifyDocumentNumber("X1234568", encoded)
		if err != nil {
			t.Fatalf("VerifyDocumentNumber: %v", err)
		}
		if ok {
			t.Error("different number verified")
		}
	})

	t.Run("wrong pepper", func(t *testing.T) {
		ok, err := testHasher("other").VerifyDocumentNumber("X1234567", encoded)
		if err != nil {
			t.Fatalf("VerifyDocumentNumber: %v", err)
		}
		if ok {
			t.Error("hash verified under a different pepper")
		}
	})

	t.Run("salted", func(t *testing.T) {
		second, err := h.HashDocumentNumber("X1234567")
		if err != nil {
			t.Fatalf("HashDocumentNumber: %v", err)
		}
		if second == encoded {
			t.Error("two hashes of the same input are identical")
		}
	})
}

func TestVerifyDocumentNumberMalformed(t *testing.T) {
	h := testHasher("pepper")
	for _, encoded := range []string{
		"",
		"argon2id-v1$only-two",
		"md5$c2FsdA$aGFzaA",
		"argon2id-v1$!!$aGFzaA",
		"argon2id-v1$c2FsdA$!!",
	} {
		if _, err := h.VerifyDocumentNumber("X1234567", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("encoded %q: expected ErrInvalidHash, got %v", encoded, err)
		}
	}
}
