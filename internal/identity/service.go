package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultCodeTTL     = 10 * time.Minute
	defaultMaxAttempts = 5
)

// Service is the explicit context object for every core operation: token
// issuance and verification, permission aggregation, credential checks.
// Constructed once at process start and threaded through; no module-level
// state.
type Service struct {
	store Store
	now   func() time.Time

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	pemPublic  string

	issuer   string
	audience string

	accessTTL   time.Duration
	codeTTL     time.Duration
	maxAttempts int

	hasher Hasher

	// keys overrides the local key pair for verification when set, e.g. a
	// fetch-and-cache client pointed at the issuing service.
	keys KeySource

	// onLockout fires once when an account crosses the attempt threshold.
	onLockout func(login string)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRS256Keys loads the asymmetric signing pair from PEM material. The
// private key may be omitted on verify-only deployments; issuance then
// fails closed with ErrKeyNotInitialized.
func WithRS256Keys(privatePEM, publicPEM string) ServiceOption {
	return func(s *Service) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if publicPEM == "" {
			return errors.New("identity: public key is required")
		}
		pub, err := ParseRSAPublicKey(publicPEM)
		if err != nil {
			return fmt.Errorf("identity: parse public key: %w", err)
		}
		s.publicKey = pub
		s.pemPublic = publicPEM
		if privatePEM != "" {
			priv, err := parseRSAPrivateKey(privatePEM)
			if err != nil {
				return fmt.Errorf("identity: parse private key: %w", err)
			}
			s.privateKey = priv
		}
		return nil
	}
}

// WithIssuer sets the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the token audience claim.
func WithAudience(aud string) ServiceOption {
	return func(s *Service) error {
		s.audience = strings.TrimSpace(aud)
		return nil
	}
}

// WithAccessTTL configures access-token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithCodeTTL configures one-time login-code lifetime.
func WithCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.codeTTL = ttl
		}
		return nil
	}
}

// WithHashCost configures the adaptive hash cost factor.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) error {
		s.hasher = NewHasher(cost)
		return nil
	}
}

// WithMaxAttempts configures the basic-auth lockout threshold.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.maxAttempts = n
		}
		return nil
	}
}

// WithKeySource plugs in an external verification-key source. Used by
// verify-only deployments that fetch the issuer's public key over HTTP
// instead of loading it from the environment.
func WithKeySource(keys KeySource) ServiceOption {
	return func(s *Service) error {
		s.keys = keys
		return nil
	}
}

// WithLockoutHook registers a callback fired when a basic-auth account
// crosses the attempt threshold. Used for metrics and audit wiring.
func WithLockoutHook(fn func(login string)) ServiceOption {
	return func(s *Service) error {
		s.onLockout = fn
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the core service around a credential store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	svc := &Service{
		store:       store,
		now:         time.Now,
		accessTTL:   defaultAccessTTL,
		codeTTL:     defaultCodeTTL,
		maxAttempts: defaultMaxAttempts,
		hasher:      NewHasher(0),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// CanIssueTokens reports whether the private key loaded at startup.
func (s *Service) CanIssueTokens() bool { return s.privateKey != nil }

// PublicKeyPEM returns the PEM-encoded verification key served to other
// services. Empty when no key pair was configured.
func (s *Service) PublicKeyPEM() string { return s.pemPublic }

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

// ParseRSAPublicKey decodes a PEM-encoded RSA public key. Shared with the
// key-distribution client, which parses the same material off the wire.
func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
