package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyScheme = "tsk_"
	apiKeyBytes  = 32

	// APIKeyPrefixLength is the number of leading key characters stored in
	// clear for lookup.
	APIKeyPrefixLength = 8
)

// keyCost is the bcrypt cost for newly issued keys. Tests lower it.
var keyCost = bcrypt.DefaultCost

// APIKey is a freshly issued credential. Plaintext is shown to the caller once
// and never persisted.
type APIKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateAPIKey issues a random tsk_ key together with its bcrypt hash and
// lookup prefix.
func GenerateAPIKey() (APIKey, error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return APIKey{}, fmt.Errorf("read entropy: %w", err)
	}
	plain := apiKeyScheme + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), keyCost)
	if err != nil {
		return APIKey{}, fmt.Errorf("hash api key: %w", err)
	}
	return APIKey{Plaintext: plain, Hash: string(hash), Prefix: plain[:APIKeyPrefixLength]}, nil
}
