package identity

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestCollectUserTenantPermissionsUnion(t *testing.T) {
	store := newMemStore()
	store.addTenant(&Tenant{Name: "child", TenantType: TenantTypeCustomer, ParentTenant: "parent"})
	store.addTenant(&Tenant{Name: "parent", TenantType: TenantTypeManagement})
	svc := newTestService(t, store)
	ctx := context.Background()

	user := &User{UUID: "u1", Tenant: "child", Scopes: []string{"report"}}
	if err := store.Binds(ctx).Upsert(ctx, &PermissionBind{UserID: "u1", Tenant: "parent", Scopes: []string{"view"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Binds(ctx).Upsert(ctx, &PermissionBind{UserID: "u1", Tenant: "child", Scopes: []string{"edit", "view"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	scopes, err := svc.CollectUserTenantPermissions(ctx, user, "child")
	if err != nil {
		t.Fatalf("CollectUserTenantPermissions: %v", err)
	}
	if !reflect.DeepEqual(scopes, []string{"edit", "report", "view"}) {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
}

func TestParentInheritanceIsSingleHop(t *testing.T) {
	store := newMemStore()
	store.addTenant(&Tenant{Name: "grandparent", TenantType: TenantTypeManagement})
	store.addTenant(&Tenant{Name: "parent", TenantType: TenantTypeManagement, ParentTenant: "grandparent"})
	store.addTenant(&Tenant{Name: "child", TenantType: TenantTypeCustomer, ParentTenant: "parent"})
	svc := newTestService(t, store)
	ctx := context.Background()

	user := &User{UUID: "u2", Tenant: "child"}
	if err := store.Binds(ctx).Upsert(ctx, &PermissionBind{UserID: "u2", Tenant: "parent", Scopes: []string{"view"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Binds(ctx).Upsert(ctx, &PermissionBind{UserID: "u2", Tenant: "grandparent", Scopes: []string{"audit"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	scopes, err := svc.CollectUserTenantPermissions(ctx, user, "child")
	if err != nil {
		t.Fatalf("CollectUserTenantPermissions: %v", err)
	}
	// Parent binds flow one hop down; grandparent binds never do.
	if !reflect.DeepEqual(scopes, []string{"view"}) {
		t.Fatalf("expected only parent scopes, got %v", scopes)
	}
}

func TestNoBindsYieldsEmptySet(t *testing.T) {
	store := newMemStore()
	store.addTenant(&Tenant{Name: "acme", TenantType: TenantTypeCustomer})
	svc := newTestService(t, store)

	scopes, err := svc.CollectUserTenantPermissions(context.Background(), &User{UUID: "u3", Tenant: "acme"}, "acme")
	if err != nil {
		t.Fatalf("CollectUserTenantPermissions: %v", err)
	}
	if len(scopes) != 0 {
		t.Fatalf("expected empty scope set, got %v", scopes)
	}
}

func TestCollectAllTenantPermissionsGroups(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	binds := []*PermissionBind{
		{UserID: "u4", Tenant: "alpha", Scopes: []string{"view", "edit"}},
		{UserID: "u4", Tenant: "beta", Scopes: []string{"view"}},
		{UserID: "u4", Tenant: "  ", Scopes: []string{"ghost"}},
		{UserID: "someone-else", Tenant: "alpha", Scopes: []string{"admin"}},
	}
	for _, b := range binds {
		if err := store.Binds(ctx).Upsert(ctx, b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	all, err := svc.CollectAllTenantPermissions(ctx, "u4")
	if err != nil {
		t.Fatalf("CollectAllTenantPermissions: %v", err)
	}
	want := map[string][]string{
		"alpha": {"edit", "view"},
		"beta":  {"view"},
	}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("unexpected grouping: %v", all)
	}
}

func TestSetUserScopes(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.SetUserScopes(ctx, "nobody", []string{"view"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	user, _, err := svc.Register(ctx, RegisterRequest{Email: "scopes@example.com", Password: "pw", Tenant: "t"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.SetUserScopes(ctx, user.UUID, []string{"edit", "view", "edit", " "}); err != nil {
		t.Fatalf("SetUserScopes: %v", err)
	}

	stored, err := store.Users(ctx).Find(ctx, user.UUID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !reflect.DeepEqual(stored.Scopes, []string{"edit", "view"}) {
		t.Fatalf("scopes not deduplicated and sorted: %v", stored.Scopes)
	}

	// The next issued token carries the updated global scopes.
	pair, err := svc.IssueTokens(ctx, stored)
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	claims, err := svc.VerifyAccessToken(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if !claims.HasScope("edit") || !claims.HasScope("view") {
		t.Fatalf("token missing updated scopes: %v", claims.Scopes)
	}
}
