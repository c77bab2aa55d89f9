// Package keycache is the client side of public-key distribution: every
// verifying service fetches the issuer's PEM key over HTTP and caches it
// per process. Caching is best-effort and per-process; cold-start races
// across instances are expected and each instance pays its own first fetch.
package keycache

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"tessera.id/internal/identity"
	"tessera.id/internal/obs"
)

const (
	defaultTTL     = time.Hour
	defaultTimeout = 10 * time.Second
	maxKeyBytes    = 64 * 1024
	maxEntries     = 32
)

// Client fetches and caches verification keys keyed by source URL. At most
// one upstream fetch per URL is outstanding at any time; concurrent callers
// for the same URL share the resolved value or the same failure.
type Client struct {
	httpClient *http.Client
	cache      *lru.LRU[string, *rsa.PublicKey]
	group      singleflight.Group
	url        string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New builds a Client for the given key endpoint with the given cache TTL
// (zero means the 3600s default).
func New(url string, ttl time.Duration, opts ...Option) *Client {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		cache:      lru.NewLRU[string, *rsa.PublicKey](maxEntries, nil, ttl),
		url:        url,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublicKey returns the cached verification key, fetching it when the cache
// is cold or expired. A non-200 response or parse failure yields an error
// and no key: the caller must deny, never fall back to an unsigned accept.
func (c *Client) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	return c.publicKeyFor(ctx, c.url)
}

func (c *Client) publicKeyFor(ctx context.Context, url string) (*rsa.PublicKey, error) {
	if key, ok := c.cache.Get(url); ok {
		return key, nil
	}

	// Deduplicate the cache-miss stampede: one fetch per URL, shared by
	// all concurrent callers.
	v, err, _ := c.group.Do(url, func() (any, error) {
		if key, ok := c.cache.Get(url); ok {
			return key, nil
		}
		key, err := c.fetch(ctx, url)
		if err != nil {
			obs.KeyFetch("error")
			return nil, err
		}
		obs.KeyFetch("ok")
		c.cache.Add(url, key)
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

func (c *Client) fetch(ctx context.Context, url string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch key: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch key: %w", err)
	}
	key, err := identity.ParseRSAPublicKey(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return key, nil
}
