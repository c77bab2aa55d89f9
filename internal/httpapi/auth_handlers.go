package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tessera.id/internal/audit"
	"tessera.id/internal/identity"
	"tessera.id/internal/obs"
)

type registerRequest struct {
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password"`
	Tenant    string `json:"tenant,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type tokenResponse struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pair, err := a.svc.Register(r.Context(), identity.RegisterRequest{
		Email:     req.Email,
		Username:  req.Username,
		Phone:     req.Phone,
		Password:  req.Password,
		Tenant:    req.Tenant,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Locale:    req.Locale,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{"user_id": user.UUID})
	writeJSON(w, http.StatusCreated, tokenResponse{
		UserID:       user.UUID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pair, err := a.svc.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		obs.LoginFailure("password")
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailure, map[string]any{"login": req.Login})
		a.handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	ctx := identity.ContextWithUserID(r.Context(), user.UUID)
	_ = audit.LogEvent(ctx, audit.EventLoginSuccess, nil)
	writeJSON(w, http.StatusOK, tokenResponse{
		UserID:       user.UUID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	w.WriteHeader(http.StatusNoContent)
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

func (a *API) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code, err := a.svc.IssueLoginCode(r.Context(), req.Email)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	// Delivery (mail/SMS) is a collaborator concern; the code never
	// appears in the response.
	ctx := identity.ContextWithUserID(r.Context(), code.UserID)
	_ = audit.LogEvent(ctx, audit.EventCodeIssued, map[string]any{"expires_at": code.LiveTime})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "code_issued"})
}

func (a *API) handleCodeLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pair, err := a.svc.LoginWithCode(r.Context(), req.Email, req.Code)
	if err != nil {
		obs.LoginFailure("code")
		a.handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	writeJSON(w, http.StatusOK, tokenResponse{
		UserID:       user.UUID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	var required []string
	if raw := strings.TrimSpace(r.URL.Query().Get("scopes")); raw != "" {
		for _, scope := range strings.Split(raw, ",") {
			if scope = strings.TrimSpace(scope); scope != "" {
				required = append(required, scope)
			}
		}
	}
	decision, err := a.svc.GetPermissions(r.Context(), required, r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
		return
	}
	payload := map[string]any{"level": decision.Level}
	if decision.Tenant != "" {
		payload["tenant"] = decision.Tenant
	}
	if decision.Level == identity.LevelDenied {
		if strings.HasPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Basic ") {
			obs.LoginFailure("basic")
		}
		writeJSON(w, http.StatusForbidden, payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, err := a.svc.VerifyAccessToken(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "denied")
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	ctx := identity.ContextWithClaims(r.Context(), claims)
	_ = audit.LogEvent(ctx, audit.EventPasswordChanged, nil)
	w.WriteHeader(http.StatusNoContent)
}

type scopesRequest struct {
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes"`
}

// scopeManageUsers gates scope administration; a global "admin" scope
// passes it as well.
const scopeManageUsers = "users.manage"

func (a *API) handleSetScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	decision, err := a.svc.GetPermissions(r.Context(), []string{scopeManageUsers}, r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
		return
	}
	if decision.Level != identity.LevelAllowed {
		writeError(w, r, http.StatusForbidden, "denied")
		return
	}
	var req scopesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetUserScopes(r.Context(), req.UserID, req.Scopes); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	ctx := identity.ContextWithClaims(r.Context(), decision.Claims)
	_ = audit.LogEvent(ctx, audit.EventScopesUpdated, map[string]any{
		"target_user_id": req.UserID,
		"scopes":         req.Scopes,
	})
	w.WriteHeader(http.StatusNoContent)
}

type apiKeyRequest struct {
	Scopes  []string `json:"scopes,omitempty"`
	Tenants []string `json:"tenants,omitempty"`
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, err := a.svc.VerifyAccessToken(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "denied")
		return
	}
	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	key, plaintext, err := a.svc.CreateAPIKey(r.Context(), claims.Subject, req.Scopes, req.Tenants)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
		return
	}
	ctx := identity.ContextWithClaims(r.Context(), claims)
	_ = audit.LogEvent(ctx, audit.EventAPIKeyCreated, map[string]any{"prefix": key.Prefix})
	// The composed key is shown exactly once and never reconstructable.
	writeJSON(w, http.StatusCreated, map[string]any{
		"uuid":   key.UUID,
		"prefix": key.Prefix,
		"key":    plaintext,
	})
}

// handleAuthError maps core error kinds to transport codes. Authorization
// failures stay indistinguishable; registration/login kinds are
// user-actionable.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrEmailAlreadyRegistered):
		writeError(w, r, http.StatusConflict, "email_already_registered")
	case errors.Is(err, identity.ErrTenantRequired):
		writeError(w, r, http.StatusBadRequest, "tenant_required")
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "user_not_found")
	case errors.Is(err, identity.ErrPasswordMismatch):
		writeError(w, r, http.StatusUnauthorized, "password_mismatch")
	case errors.Is(err, identity.ErrDenied),
		errors.Is(err, identity.ErrCredentialNotFound),
		errors.Is(err, identity.ErrCredentialLocked),
		errors.Is(err, identity.ErrCredentialMismatch):
		writeError(w, r, http.StatusUnauthorized, "denied")
	case errors.Is(err, identity.ErrKeyNotInitialized):
		writeError(w, r, http.StatusServiceUnavailable, "key_not_initialized")
	case errors.Is(err, identity.ErrStoreWrite):
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
	default:
		writeError(w, r, http.StatusInternalServerError, "unknown_error")
	}
}
