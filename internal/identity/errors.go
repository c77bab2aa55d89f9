package identity

import "errors"

// Outward-facing kinds. Authorization failures collapse to ErrDenied at the
// boundary: expired, forged and malformed tokens are indistinguishable to
// callers. Registration/login flows may surface the more specific kinds.
var (
	ErrKeyNotInitialized = errors.New("identity: signing key not initialized")
	ErrDenied            = errors.New("identity: denied")

	ErrCredentialNotFound = errors.New("identity: credential not found")
	ErrCredentialLocked   = errors.New("identity: credential locked")
	ErrCredentialMismatch = errors.New("identity: credential mismatch")

	ErrEmailAlreadyRegistered = errors.New("identity: email already registered")
	ErrPasswordMismatch       = errors.New("identity: password mismatch")
	ErrUserNotFound           = errors.New("identity: user not found")
	ErrTenantRequired         = errors.New("identity: tenant is required")

	ErrStoreWrite = errors.New("identity: store write failed")

	// ErrNotFound is the absent-value sentinel for store lookups that may
	// legitimately miss.
	ErrNotFound = errors.New("identity: not found")
)
