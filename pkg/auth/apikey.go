package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyConfig holds static API key credentials.
type KeyConfig struct {
	Keys []Key
}

// Key is one API key entry. Exactly one of Key (plain value) or Hash
// (bcrypt) should be set; plain values are compared in constant time,
// hashed values via bcrypt.
type Key struct {
	Key          string
	Hash         string
	Name         string
	Roles        []string
	PracticeIDs  []int64
	Capabilities []string
	SuperAdmin   bool
}

// KeyAuthenticator authenticates callers by static API key. Keys carry
// their own roles, practice scope and capabilities, so service accounts
// get the same tenant treatment as interactive users.
type KeyAuthenticator struct {
	keys []Key
}

// NewKeyAuthenticator creates a KeyAuthenticator.
func NewKeyAuthenticator(cfg KeyConfig) *KeyAuthenticator {
	return &KeyAuthenticator{keys: cfg.Keys}
}

// Authenticate matches the presented credential against configured keys.
func (a *KeyAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	token := TokenFromContext(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key in request")
	}

	var matched *Key
	for i := range a.keys {
		k := &a.keys[i]
		if k.Key != "" && subtle.ConstantTimeCompare([]byte(k.Key), []byte(token)) == 1 {
			matched = k
			break
		}
		if k.Hash != "" && bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, fmt.Errorf("invalid API key")
	}

	return &Principal{
		ID:           "apikey:" + matched.Name,
		Email:        matched.Name + "@apikey.local",
		Roles:        matched.Roles,
		PracticeIDs:  matched.PracticeIDs,
		Capabilities: matched.Capabilities,
		SuperAdmin:   matched.SuperAdmin,
		AuthType:     "apikey",
		Claims:       make(map[string]any),
	}, nil
}

// HashKey produces a bcrypt hash suitable for the Hash field.
func HashKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing API key: %w", err)
	}
	return string(hash), nil
}

var _ Authenticator = (*KeyAuthenticator)(nil)
