package identity

import (
	"context"
	"strings"
)

// GetPermissions evaluates a request's authorization header (bearer or
// basic) against the required scopes. Any one of the required scopes
// satisfies the check. A global scope match yields "allowed"; a match found
// only inside one tenant of the token's tenants map yields "tenant" with
// the tenant name; everything else is "denied". A verified basic-auth
// credential is allowed outright — the legacy path carries no scopes.
func (s *Service) GetPermissions(ctx context.Context, requiredScopes []string, authHeader string) (Decision, error) {
	authHeader = strings.TrimSpace(authHeader)
	switch {
	case strings.HasPrefix(authHeader, basicScheme):
		if _, err := s.VerifyBasicAuth(ctx, authHeader); err != nil {
			return Decision{Level: LevelDenied}, nil
		}
		return Decision{Level: LevelAllowed}, nil

	case strings.HasPrefix(authHeader, bearerScheme):
		claims, err := s.VerifyAccessToken(ctx, authHeader)
		if err != nil {
			return Decision{Level: LevelDenied}, nil
		}
		return decide(claims, requiredScopes), nil

	default:
		return Decision{Level: LevelDenied}, nil
	}
}

// scopeAdmin globally overrides any scope requirement.
const scopeAdmin = "admin"

func decide(claims *Claims, requiredScopes []string) Decision {
	if len(requiredScopes) == 0 || claims.HasScope(scopeAdmin) {
		return Decision{Level: LevelAllowed, Claims: claims}
	}
	for _, required := range requiredScopes {
		if claims.HasScope(required) {
			return Decision{Level: LevelAllowed, Claims: claims}
		}
	}
	for tenant, scopes := range claims.Tenants {
		for _, required := range requiredScopes {
			for _, scope := range scopes {
				if scope == required {
					return Decision{Level: LevelTenant, Tenant: tenant, Claims: claims}
				}
			}
		}
	}
	return Decision{Level: LevelDenied}
}
