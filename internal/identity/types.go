package identity

import "time"

// Tenant types. A tenant-management tenant may own customer tenants;
// customer tenants point back through ParentTenant.
const (
	TenantTypeManagement = "tenant-management"
	TenantTypeCustomer   = "customer-tenant"
)

// Refresh-token lifecycle states. Rows are never deleted; logout flips the
// status so the audit trail survives.
const (
	LoginStatusActive    = "active"
	LoginStatusLoggedOut = "logged-out"
)

// Basic-auth account states.
const (
	AccountStatusActive   = "active"
	AccountStatusLocked   = "locked"
	AccountStatusDisabled = "disabled"
)

// API key states.
const (
	APIKeyStatusActive   = "active"
	APIKeyStatusInactive = "inactive"
)

// User is an authenticatable identity. At least one of Username, Email or
// Phone must be set before password auth is usable.
type User struct {
	UUID         string
	Tenant       string
	Username     string
	Email        string
	Phone        string
	PasswordHash string
	Scopes       []string
	FirstName    string
	LastName     string
	Locale       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName resolves the human-readable name embedded into tokens.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" || u.LastName != "":
		name := u.FirstName
		if u.LastName != "" {
			if name != "" {
				name += " "
			}
			name += u.LastName
		}
		return name
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	default:
		return "Anonymous"
	}
}

// Tenant is a named organizational partition. Name, not the surrogate id,
// is the key carried in tokens and permission binds. ParentTenant is a
// single-level pointer; only one hop is ever traversed.
type Tenant struct {
	Name         string
	TenantType   string
	ParentTenant string
	OwnerUserID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PermissionBind grants a user a set of scopes within one named tenant.
// Storage does not enforce uniqueness of (UserID, Tenant); only the first
// row per pair is authoritative, so writers must upsert.
type PermissionBind struct {
	UserID    string
	Tenant    string
	Scopes    []string
	CreatedAt time.Time
}

// RefreshToken is a long-lived opaque credential exchanged for new access
// tokens while LoginStatus is active.
type RefreshToken struct {
	UUID        string
	Token       string
	UserID      string
	LoginStatus string
	CreatedAt   time.Time
}

// BasicAuthAccount is a legacy credential with brute-force lockout.
type BasicAuthAccount struct {
	UUID          string
	Login         string
	PasswordHash  string
	Status        string
	LoginAttempts int
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// APIKey is a two-part machine credential. Prefix is the non-secret lookup
// key; the secret is stored only as an adaptive hash.
type APIKey struct {
	UUID       string
	UserID     string
	Prefix     string
	SecretHash string
	Status     string
	Scopes     []string
	Tenants    []string
	CreatedAt  time.Time
}

// AuthCode is a one-time verification code. LiveTime is the absolute expiry
// instant, not a duration.
type AuthCode struct {
	UUID     string
	UserID   string
	Code     string
	LiveTime time.Time
	BondTime time.Time
}

// TokenPair is the result of a successful login, registration or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Decision levels returned by GetPermissions.
const (
	LevelDenied  = "denied"
	LevelAllowed = "allowed"
	LevelTenant  = "tenant"
)

// Decision is the outward result of a permission check. Tenant is set only
// when Level is "tenant"; Claims only when a bearer token was presented.
type Decision struct {
	Level  string
	Tenant string
	Claims *Claims
}
