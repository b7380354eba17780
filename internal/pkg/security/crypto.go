package security

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCredential is returned when neither a credential nor a sealed
// credential file is configured.
var ErrNoCredential = errors.New("no credential configured")

// CredentialSource describes where the attendance credential comes from.
// The service only reads it; issuing and rotating it is up to the host.
type CredentialSource struct {
	// Value is the credential itself, e.g. injected from a secret store.
	Value string
	// File is an AES-256-GCM sealed credential (nonce + ciphertext).
	File string
	// MasterKey is the hex encoded 32-byte key that opens File.
	MasterKey string
}

// LoadCredential resolves the credential. A plain Value wins over File.
func LoadCredential(src CredentialSource) (string, error) {
	if v := strings.TrimSpace(src.Value); v != "" {
		return v, nil
	}
	if src.File == "" {
		return "", ErrNoCredential
	}

	key, err := hex.DecodeString(strings.TrimSpace(src.MasterKey))
	if err != nil || len(key) != 32 {
		return "", errors.New("master key must be 32 bytes, hex encoded")
	}

	sealed, err := os.ReadFile(src.File)
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}

	plain, err := Decrypt(key, sealed)
	if err != nil {
		return "", fmt.Errorf("failed to open credential file (invalid key or corrupted file): %w", err)
	}

	cred := strings.TrimSpace(string(plain))
	if cred == "" {
		return "", ErrNoCredential
	}
	return cred, nil
}

// Decrypt decrypts ciphertext (Nonce + Ciphertext) using AES-GCM.
func Decrypt(key, data []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("key not initialized or invalid length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
