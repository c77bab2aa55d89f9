package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CollectUserTenantPermissions computes the user's effective scopes within
// one named tenant: the union of the user's global scopes, binds on the
// tenant's parent (one hop only, grandparents never contribute) and binds
// on the tenant itself. A user with no binds and no global scopes gets an
// empty set — denied by default.
func (s *Service) CollectUserTenantPermissions(ctx context.Context, user *User, tenantName string) ([]string, error) {
	if user == nil || tenantName == "" {
		return nil, ErrUserNotFound
	}
	set := make(map[string]struct{})
	for _, scope := range user.Scopes {
		addScope(set, scope)
	}

	tenant, err := s.store.Tenants(ctx).FindByName(ctx, tenantName)
	switch {
	case err == nil:
		if tenant.ParentTenant != "" {
			parentBinds, err := s.store.Binds(ctx).Find(ctx, user.UUID, tenant.ParentTenant)
			if err != nil {
				return nil, err
			}
			for _, b := range parentBinds {
				for _, scope := range b.Scopes {
					addScope(set, scope)
				}
			}
		}
	case errors.Is(err, ErrNotFound):
		// Unknown tenants still aggregate direct binds; parents need a
		// resolvable tenant record.
	default:
		return nil, err
	}

	binds, err := s.store.Binds(ctx).Find(ctx, user.UUID, tenantName)
	if err != nil {
		return nil, err
	}
	for _, b := range binds {
		for _, scope := range b.Scopes {
			addScope(set, scope)
		}
	}
	return sortedScopes(set), nil
}

// CollectAllTenantPermissions groups every permission bind of the user by
// tenant name, deduplicating scopes per tenant. Used by the token issuer to
// embed the tenants map.
func (s *Service) CollectAllTenantPermissions(ctx context.Context, userID string) (map[string][]string, error) {
	binds, err := s.store.Binds(ctx).Find(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	sets := make(map[string]map[string]struct{})
	for _, b := range binds {
		tenant := strings.TrimSpace(b.Tenant)
		if tenant == "" {
			// Malformed rows are skipped, not errored.
			continue
		}
		set, ok := sets[tenant]
		if !ok {
			set = make(map[string]struct{})
			sets[tenant] = set
		}
		for _, scope := range b.Scopes {
			addScope(set, scope)
		}
	}
	out := make(map[string][]string, len(sets))
	for tenant, set := range sets {
		out[tenant] = sortedScopes(set)
	}
	return out, nil
}

// SetUserScopes replaces a user's global scope list, trimmed and
// deduplicated. Outstanding access tokens keep their old scopes until
// expiry; the change lands at the next issuance or refresh.
func (s *Service) SetUserScopes(ctx context.Context, userID string, scopes []string) error {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	set := make(map[string]struct{})
	for _, scope := range scopes {
		addScope(set, scope)
	}
	if err := s.store.Users(ctx).UpdateScopes(ctx, userID, sortedScopes(set)); err != nil {
		return fmt.Errorf("%w: update scopes: %v", ErrStoreWrite, err)
	}
	return nil
}

func addScope(set map[string]struct{}, scope string) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return
	}
	set[scope] = struct{}{}
}

func sortedScopes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for scope := range set {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
