// Package vault decrypts stored connection secrets for node handlers.
// Secrets are resolved per call; neither the executor nor the vault caches
// decrypted material.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrBadKeyLength   = errors.New("encryption key must be 32 bytes")
)

// SecretSource supplies encrypted secret blobs by vault id.
type SecretSource interface {
	GetSecret(ctx context.Context, vaultID string) (string, error)
}

// Manager decrypts connection secrets with AES-256-GCM.
type Manager struct {
	key    []byte
	source SecretSource
	logger logger.Logger
}

// NewManager creates a vault manager over a secret source.
func NewManager(key string, source SecretSource, log logger.Logger) (*Manager, error) {
	if len(key) != 32 {
		return nil, ErrBadKeyLength
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{key: []byte(key), source: source, logger: log}, nil
}

// GetConnection fetches and decrypts a connection document. Returns nil
// (with no error) when the vault holds nothing for the id.
func (m *Manager) GetConnection(ctx context.Context, vaultID string) (*node.Connection, error) {
	blob, err := m.source.GetSecret(ctx, vaultID)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch secret %s: %w", vaultID, err)
	}

	plaintext, err := m.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret %s: %w", vaultID, err)
	}

	var conn node.Connection
	if err := json.Unmarshal([]byte(plaintext), &conn); err != nil {
		return nil, fmt.Errorf("malformed connection document %s: %w", vaultID, err)
	}
	return &conn, nil
}

// Encrypt seals plaintext and encodes it as base64.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (m *Manager) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// MemorySource is an in-process SecretSource for tests and local setups.
type MemorySource struct {
	secrets map[string]string
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{secrets: make(map[string]string)}
}

// Put stores an encrypted blob under a vault id.
func (s *MemorySource) Put(vaultID, blob string) {
	s.secrets[vaultID] = blob
}

func (s *MemorySource) GetSecret(ctx context.Context, vaultID string) (string, error) {
	blob, ok := s.secrets[vaultID]
	if !ok {
		return "", ErrSecretNotFound
	}
	return blob, nil
}
