package main

import (
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateSecureToken_ProducesValidHex(t *testing.T) {
	token, err := GenerateSecureToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := hex.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not valid hex: %v", err)
	}
	if len(decoded) != tokenByteLength {
		t.Errorf("decoded length = %d, want %d", len(decoded), tokenByteLength)
	}
}

func TestGenerateSecureToken_ProducesUniqueTokens(t *testing.T) {
	const numTokens = 50
	seen := make(map[string]bool, numTokens)
	for i := 0; i < numTokens; i++ {
		token, err := GenerateSecureToken()
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if seen[token] {
			t.Fatalf("duplicate token on iteration %d", i)
		}
		seen[token] = true
	}
}

func TestHashAdminKey_VerifiesWithBcrypt(t *testing.T) {
	hash, err := HashAdminKey("s3cret-admin-key", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-admin-key")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong")); err == nil {
		t.Error("hash verified a different key")
	}
}

func TestHashAdminKey_RejectsEmpty(t *testing.T) {
	if _, err := HashAdminKey("", bcrypt.MinCost); err == nil {
		t.Error("expected error for empty key")
	}
}
