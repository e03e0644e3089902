package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// tokenByteLength is the number of random bytes in a generated admin key.
// 32 bytes hex-encode to a 64-character string.
const tokenByteLength = 32

// GenerateSecureToken produces a random lowercase hex token from crypto/rand.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	n, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("generating secure token: crypto/rand failed: %w", err)
	}
	if n != tokenByteLength {
		return "", fmt.Errorf("generating secure token: expected %d random bytes, got %d", tokenByteLength, n)
	}

	return hex.EncodeToString(buf), nil
}

// HashAdminKey returns the bcrypt hash stored as ADMIN_KEY_HASH. The API
// compares the X-Admin-Key header against it.
func HashAdminKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("admin key must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hashing admin key: %w", err)
	}
	return string(hash), nil
}
