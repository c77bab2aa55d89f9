package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the typed access-token payload. Mandatory fields are validated
// once at the verification boundary; nothing duck-typed leaves this package.
type Claims struct {
	Name       string              `json:"name"`
	Tenant     string              `json:"tenant"`
	TenantType string              `json:"tpy,omitempty"`
	Email      string              `json:"email,omitempty"`
	Username   string              `json:"username,omitempty"`
	Scopes     []string            `json:"scopes"`
	Tenants    map[string][]string `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// checkShape enforces the mandatory claim fields. A cryptographically valid
// token missing any of them is still rejected.
func (c *Claims) checkShape() error {
	if strings.TrimSpace(c.Subject) == "" {
		return ErrDenied
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrDenied
	}
	if strings.TrimSpace(c.Tenant) == "" {
		return ErrDenied
	}
	if c.Scopes == nil {
		return ErrDenied
	}
	return nil
}

// HasScope reports whether the global scope list carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TenantScopes returns the scopes bound to one tenant in the token.
func (c *Claims) TenantScopes(tenant string) []string {
	if c.Tenants == nil {
		return nil
	}
	return c.Tenants[tenant]
}
