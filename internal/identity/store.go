package identity

import "context"

// Store describes the persistence contract the core consumes. The core owns
// the rules applied to rows, never the persistence itself. Lookups that may
// legitimately miss return ErrNotFound rather than a failure.
type Store interface {
	Users(ctx context.Context) UserStore
	Tenants(ctx context.Context) TenantStore
	Binds(ctx context.Context) BindStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	BasicAccounts(ctx context.Context) BasicAccountStore
	APIKeys(ctx context.Context) APIKeyStore
	AuthCodes(ctx context.Context) AuthCodeStore
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, uuid string) (*User, error)
	// FindByField looks a user up by "email", "username" or "phone".
	// Results are ordered by creation so the earliest row wins duplicate
	// races.
	FindByField(ctx context.Context, field, value string) ([]*User, error)
	UpdatePassword(ctx context.Context, uuid, passwordHash string) error
	UpdateScopes(ctx context.Context, uuid string, scopes []string) error
	Delete(ctx context.Context, uuid string) error
}

// TenantStore manages tenants keyed by name.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	FindByName(ctx context.Context, name string) (*Tenant, error)
}

// BindStore manages permission binds.
type BindStore interface {
	Upsert(ctx context.Context, b *PermissionBind) error
	// Find returns binds for the user; tenant narrows to one tenant when
	// non-empty.
	Find(ctx context.Context, userID, tenant string) ([]PermissionBind, error)
}

// RefreshTokenStore manages refresh-token lifecycle. Rows are never deleted.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, token, status string) (*RefreshToken, error)
	UpdateStatus(ctx context.Context, token, status string) error
}

// BasicAccountStore manages basic-auth accounts. IncrementAttempts must be
// atomic at the store layer to avoid lost updates under concurrent failed
// logins.
type BasicAccountStore interface {
	FindByLogin(ctx context.Context, login string) (*BasicAuthAccount, error)
	IncrementAttempts(ctx context.Context, uuid string) (int, error)
	ResetAttempts(ctx context.Context, uuid string) error
}

// APIKeyStore manages machine credentials.
type APIKeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	FindByPrefix(ctx context.Context, prefix string) (*APIKey, error)
}

// AuthCodeStore manages one-time login codes.
type AuthCodeStore interface {
	Create(ctx context.Context, c *AuthCode) error
	// Consume atomically fetches and invalidates the code for the user.
	Consume(ctx context.Context, userID, code string) (*AuthCode, error)
}
