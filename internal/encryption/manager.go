package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"kyc-service/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Manager envelope-encrypts document summaries before they reach the
// session store. Each value gets its own data key; the data key is
// wrapped by KMS. When KMS is disabled the data key is stored as is,
// which is only acceptable for local development.
type Manager struct {
	kmsClient *kms.Client
	config    *config.KMSConfig
	keyCache  sync.Map
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    &cfg.KMS,
	}
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.Enabled {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return &dataKey{plaintext: key, ciphertext: key}, nil
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
	}, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	cacheKey := base64.StdEncoding.EncodeToString(encryptedKey)
	if cached, ok := m.keyCache.Load(cacheKey); ok {
		return cached.([]byte), nil
	}

	var plaintext []byte
	if m.config.Enabled {
		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: encryptedKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt data key: %v", ErrDecryptionFailed, err)
		}
		plaintext = result.Plaintext
	} else {
		plaintext = encryptedKey
	}

	m.keyCache.Store(cacheKey, plaintext)
	return plaintext, nil
}

// Encrypt seals plaintext with a fresh data key. Returns the sealed
// value (nonce prepended) and the wrapped data key.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte) ([]byte, []byte, error) {
	key, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key.plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	cacheKey := base64.StdEncoding.EncodeToString(key.ciphertext)
	m.keyCache.Store(cacheKey, key.plaintext)

	return ciphertext, key.ciphertext, nil
}

// Decrypt opens a value sealed by Encrypt.
func (m *Manager) Decrypt(ctx context.Context, ciphertext, encryptedKey []byte) ([]byte, error) {
	key, err := m.unwrapDataKey(ctx, encryptedKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ClearCache drops cached data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
