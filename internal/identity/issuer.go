package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// The ownership fallback scope: every user can at least read their own
// home tenant once a token has been issued.
const ownerFallbackScope = "view"

// IssueTokens builds and signs an access token for the user and persists a
// paired refresh token. The two writes are not transactional: a refresh
// persistence failure surfaces as ErrStoreWrite while the signed access
// token is discarded (signing is deferred until the claims are complete,
// but the store write still happens last).
func (s *Service) IssueTokens(ctx context.Context, user *User) (TokenPair, error) {
	if user == nil {
		return TokenPair{}, ErrUserNotFound
	}
	// The verifier rejects tokens without a tenant claim; never sign one.
	if user.Tenant == "" {
		return TokenPair{}, ErrTenantRequired
	}
	if !s.CanIssueTokens() {
		return TokenPair{}, ErrKeyNotInitialized
	}

	claims, err := s.buildClaims(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign token: %w", err)
	}

	refresh, err := mintRefreshToken(user.UUID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, refresh); err != nil {
		return TokenPair{}, fmt.Errorf("%w: persist refresh token: %v", ErrStoreWrite, err)
	}

	return TokenPair{
		AccessToken:  signed,
		RefreshToken: refresh.Token,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) buildClaims(ctx context.Context, user *User) (*Claims, error) {
	// Home tenant is looked up only for the tenant-type claim; a missing
	// record just omits it.
	var tenantType string
	if user.Tenant != "" {
		tenant, err := s.store.Tenants(ctx).FindByName(ctx, user.Tenant)
		switch {
		case err == nil:
			tenantType = tenant.TenantType
		case errors.Is(err, ErrNotFound):
			// claim omitted
		default:
			return nil, err
		}
	}

	tenants, err := s.CollectAllTenantPermissions(ctx, user.UUID)
	if err != nil {
		return nil, err
	}
	// Ownership fallback: ensure at least read access to the home tenant.
	if user.Tenant != "" {
		if _, ok := tenants[user.Tenant]; !ok {
			tenants[user.Tenant] = []string{ownerFallbackScope}
		}
	}

	scopes := user.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	now := s.now().UTC()
	claims := &Claims{
		Name:       user.DisplayName(),
		Tenant:     user.Tenant,
		TenantType: tenantType,
		Email:      user.Email,
		Username:   user.Username,
		Scopes:     scopes,
		Tenants:    tenants,
	}
	claims.Subject = user.UUID
	claims.Issuer = s.issuer
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.accessTTL))
	return claims, nil
}

// mintRefreshToken produces an opaque unguessable token: 32 bytes of
// cryptographically secure randomness, hex-encoded.
func mintRefreshToken(userID string) (*RefreshToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &RefreshToken{
		UUID:        uuid.NewString(),
		Token:       hex.EncodeToString(buf),
		UserID:      userID,
		LoginStatus: LoginStatusActive,
	}, nil
}

// Refresh exchanges an active refresh token for a fresh access token. The
// tenants map is recomputed so permission edits take effect at refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	record, err := s.store.RefreshTokens(ctx).Find(ctx, refreshToken, LoginStatusActive)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrDenied
		}
		return TokenPair{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrDenied
		}
		return TokenPair{}, err
	}
	return s.IssueTokens(ctx, user)
}

// Logout revokes a refresh token by status flip. The row stays behind as an
// audit trail. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.store.RefreshTokens(ctx).UpdateStatus(ctx, refreshToken, LoginStatusLoggedOut)
}
