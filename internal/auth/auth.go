package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of generated API keys (in bytes, before base64 encoding)
	APIKeyLength = 32
	// BcryptCost is the cost factor for bcrypt key hashing
	BcryptCost = 12
	// KeyPrefixLength is the number of leading characters stored in plain text
	// for indexed lookup.
	KeyPrefixLength = 8
)

// GenerateAPIKey generates a new API key.
// Returns the plain key (shown to the user once), the bcrypt hash to store,
// and the prefix used for lookup.
func GenerateAPIKey() (plainKey string, keyHash string, keyPrefix string, err error) {
	keyBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random key: %w", err)
	}

	plainKey = base64.URLEncoding.EncodeToString(keyBytes)
	keyPrefix = GetKeyPrefix(plainKey)

	keyHashBytes, err := bcrypt.GenerateFromPassword(keyBytes, BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}
	keyHash = string(keyHashBytes)

	return plainKey, keyHash, keyPrefix, nil
}

// VerifyAPIKey verifies an API key against a stored hash
func VerifyAPIKey(plainKey, keyHash string) bool {
	keyBytes, err := base64.URLEncoding.DecodeString(plainKey)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(keyHash), keyBytes) == nil
}

// GetKeyPrefix extracts the lookup prefix from a plain API key
func GetKeyPrefix(plainKey string) string {
	if len(plainKey) >= KeyPrefixLength {
		return plainKey[:KeyPrefixLength]
	}
	return plainKey
}
