package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	apiKeySeparator      = "."
	apiKeyPrefixBytes    = 8
	apiKeySecretBytes    = 32
	prefixCollisionTries = 5
)

// CreateAPIKey mints a machine credential for the user. The composite
// plaintext key "prefix.secret" is returned exactly once; only the secret's
// adaptive hash is persisted, so the key is never reconstructable.
//
// Prefix uniqueness is probabilistic: generation retries against the store
// up to five times on collision, and the store's unique constraint remains
// the final gate.
func (s *Service) CreateAPIKey(ctx context.Context, userID string, scopes, tenants []string) (*APIKey, string, error) {
	keys := s.store.APIKeys(ctx)

	var prefix string
	for try := 0; try < prefixCollisionTries; try++ {
		candidate, err := randomHex(apiKeyPrefixBytes)
		if err != nil {
			return nil, "", err
		}
		_, err = keys.FindByPrefix(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			prefix = candidate
			break
		}
		if err != nil {
			return nil, "", err
		}
		// Collision: keep the last candidate as best effort.
		prefix = candidate
	}

	secret, err := randomHex(apiKeySecretBytes)
	if err != nil {
		return nil, "", err
	}
	secretHash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		UUID:       uuid.NewString(),
		UserID:     userID,
		Prefix:     prefix,
		SecretHash: secretHash,
		Status:     APIKeyStatusActive,
		Scopes:     scopes,
		Tenants:    tenants,
	}
	if err := keys.Create(ctx, key); err != nil {
		return nil, "", ErrStoreWrite
	}
	return key, prefix + apiKeySeparator + secret, nil
}

// VerifyAPIKey checks a presented "prefix.secret" credential. Only the
// prefix is looked up; the secret is hash-compared against the stored hash.
func (s *Service) VerifyAPIKey(ctx context.Context, presented string) (*APIKey, error) {
	prefix, secret, ok := strings.Cut(strings.TrimSpace(presented), apiKeySeparator)
	if !ok || prefix == "" || secret == "" {
		return nil, ErrCredentialMismatch
	}
	key, err := s.store.APIKeys(ctx).FindByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	if key.Status != APIKeyStatusActive {
		return nil, ErrCredentialLocked
	}
	if err := s.hasher.Compare(key.SecretHash, secret); err != nil {
		return nil, ErrCredentialMismatch
	}
	return key, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
