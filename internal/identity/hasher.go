package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher wraps the adaptive hash used for passwords and API-key secrets.
// Cost is fixed at construction from configuration.
type Hasher struct {
	cost int
}

// NewHasher builds a Hasher with the given bcrypt cost. Out-of-range costs
// fall back to the library default.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash hashes a plaintext secret.
func (h Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare checks a plaintext secret against a stored hash. The hash is never
// reversed.
func (h Hasher) Compare(hash, secret string) error {
	if hash == "" {
		return errors.New("stored hash is empty")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrCredentialMismatch
	}
	return nil
}
