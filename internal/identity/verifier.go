package identity

import (
	"context"
	"crypto/rsa"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerScheme = "Bearer "

// KeySource resolves the RSA verification key. The issuing service uses its
// own configured key; remote verifiers plug in the fetch-and-cache client.
type KeySource interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// localKeySource serves the key pair loaded at startup.
type localKeySource struct{ svc *Service }

func (l localKeySource) PublicKey(context.Context) (*rsa.PublicKey, error) {
	if l.svc.publicKey == nil {
		return nil, ErrKeyNotInitialized
	}
	return l.svc.publicKey, nil
}

// VerifyAccessToken validates a bearer-scheme authorization header against
// the configured key source (local key pair unless one was plugged in).
// All failure modes collapse to ErrDenied.
func (s *Service) VerifyAccessToken(ctx context.Context, bearerHeader string) (*Claims, error) {
	keys := KeySource(localKeySource{svc: s})
	if s.keys != nil {
		keys = s.keys
	}
	return VerifyBearer(ctx, bearerHeader, keys)
}

// VerifyBearer validates a bearer header against the given key source: one
// round of work, no retries, no state mutation. The payload must carry
// non-empty scopes, tenant and name to be accepted.
func VerifyBearer(ctx context.Context, bearerHeader string, keys KeySource) (*Claims, error) {
	raw, err := extractBearer(bearerHeader)
	if err != nil {
		return nil, ErrDenied
	}
	key, err := keys.PublicKey(ctx)
	if err != nil || key == nil {
		// Fail closed: no key means no acceptance.
		return nil, ErrKeyNotInitialized
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrDenied
		}
		return key, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrDenied
	}
	if err := claims.checkShape(); err != nil {
		return nil, ErrDenied
	}
	return claims, nil
}

func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, bearerScheme) {
		return "", ErrDenied
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrDenied
	}
	return token, nil
}
