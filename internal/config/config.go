package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	defaultAddr        = ":8080"
	defaultAccessTTL   = 15 * time.Minute
	defaultKeyCacheTTL = time.Hour
	defaultHashCost    = 10
	defaultMaxAttempts = 5
	defaultIssuer      = "tessera"
	defaultAudience    = "tessera-services"
	defaultCodeTTL     = 10 * time.Minute
)

// Config holds every startup-time constant the service reads from the
// environment. Nothing here is hot-reloaded; the process must restart to
// pick up new values.
type Config struct {
	Addr  string
	PGDSN string

	// Signing key material, base64-wrapped PEM. Private key may be absent
	// on verify-only deployments; issuance then fails closed.
	PrivateKeyPEM string
	PublicKeyPEM  string

	// KeyURL points a verify-only deployment at the issuing service's
	// public-key endpoint. Ignored when PublicKeyPEM is set.
	KeyURL string

	Issuer   string
	Audience string

	AccessTTL   time.Duration
	KeyCacheTTL time.Duration
	CodeTTL     time.Duration

	HashCost    int
	MaxAttempts int
}

// Load reads configuration from the environment, consulting a local .env
// file first when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        envOr("TESSERA_ADDR", defaultAddr),
		PGDSN:       os.Getenv("TESSERA_PG_DSN"),
		KeyURL:      strings.TrimSpace(os.Getenv("TESSERA_KEY_URL")),
		Issuer:      envOr("TESSERA_ISSUER", defaultIssuer),
		Audience:    envOr("TESSERA_AUDIENCE", defaultAudience),
		AccessTTL:   defaultAccessTTL,
		KeyCacheTTL: defaultKeyCacheTTL,
		CodeTTL:     defaultCodeTTL,
		HashCost:    defaultHashCost,
		MaxAttempts: defaultMaxAttempts,
	}

	var err error
	if cfg.PrivateKeyPEM, err = decodeKey("TESSERA_PRIVATE_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.PublicKeyPEM, err = decodeKey("TESSERA_PUBLIC_KEY"); err != nil {
		return Config{}, err
	}

	if raw := os.Getenv("TESSERA_ACCESS_TTL"); raw != "" {
		ttl, err := ParseTTL(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TESSERA_ACCESS_TTL: %w", err)
		}
		cfg.AccessTTL = ttl
	}
	if raw := os.Getenv("TESSERA_KEY_CACHE_TTL"); raw != "" {
		ttl, err := ParseTTL(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TESSERA_KEY_CACHE_TTL: %w", err)
		}
		cfg.KeyCacheTTL = ttl
	}
	if raw := os.Getenv("TESSERA_CODE_TTL"); raw != "" {
		ttl, err := ParseTTL(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TESSERA_CODE_TTL: %w", err)
		}
		cfg.CodeTTL = ttl
	}
	if raw := os.Getenv("TESSERA_HASH_COST"); raw != "" {
		cost, err := strconv.Atoi(raw)
		if err != nil || cost < 4 || cost > 31 {
			return Config{}, fmt.Errorf("TESSERA_HASH_COST: invalid cost %q", raw)
		}
		cfg.HashCost = cost
	}
	if raw := os.Getenv("TESSERA_MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("TESSERA_MAX_ATTEMPTS: invalid threshold %q", raw)
		}
		cfg.MaxAttempts = n
	}

	return cfg, nil
}

// ParseTTL parses a lifetime string. On top of the standard Go duration
// syntax it accepts a bare "min" suffix ("525949min"), which some deployers
// carry over from older configs.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(raw, "min") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(raw, "min"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		d := time.Duration(n * float64(time.Minute))
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %q", raw)
		}
		return d, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", raw)
	}
	return d, nil
}

func decodeKey(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", nil
	}
	// Accept raw PEM as well as base64-wrapped PEM.
	if strings.HasPrefix(raw, "-----BEGIN") {
		return raw, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%s: not valid base64 or PEM", name)
	}
	return string(decoded), nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
