package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"tessera.id/internal/identity"
)

// fakeStore is an in-memory identity.Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*identity.User
	order    map[string]int
	tenants  map[string]*identity.Tenant
	binds    []identity.PermissionBind
	refresh  map[string]*identity.RefreshToken
	accounts map[string]*identity.BasicAuthAccount
	apiKeys  map[string]*identity.APIKey
	codes    map[string]*identity.AuthCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*identity.User),
		order:    make(map[string]int),
		tenants:  make(map[string]*identity.Tenant),
		refresh:  make(map[string]*identity.RefreshToken),
		accounts: make(map[string]*identity.BasicAuthAccount),
		apiKeys:  make(map[string]*identity.APIKey),
		codes:    make(map[string]*identity.AuthCode),
	}
}

func (f *fakeStore) Users(context.Context) identity.UserStore         { return fakeUsers{f} }
func (f *fakeStore) Tenants(context.Context) identity.TenantStore     { return fakeTenants{f} }
func (f *fakeStore) Binds(context.Context) identity.BindStore         { return fakeBinds{f} }
func (f *fakeStore) RefreshTokens(context.Context) identity.RefreshTokenStore {
	return fakeRefresh{f}
}
func (f *fakeStore) BasicAccounts(context.Context) identity.BasicAccountStore {
	return fakeAccounts{f}
}
func (f *fakeStore) APIKeys(context.Context) identity.APIKeyStore     { return fakeAPIKeys{f} }
func (f *fakeStore) AuthCodes(context.Context) identity.AuthCodeStore { return fakeCodes{f} }

type fakeUsers struct{ *fakeStore }

func (s fakeUsers) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.order[u.UUID] = s.seq
	copied := *u
	s.users[u.UUID] = &copied
	return nil
}

func (s fakeUsers) Find(ctx context.Context, uuid string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uuid]
	if !ok {
		return nil, identity.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s fakeUsers) FindByField(ctx context.Context, field, value string) ([]*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.User
	for _, u := range s.users {
		var candidate string
		switch field {
		case "email":
			candidate = u.Email
		case "username":
			candidate = u.Username
		case "phone":
			candidate = u.Phone
		}
		if candidate != "" && candidate == value {
			copied := *u
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].UUID] < s.order[out[j].UUID]
	})
	return out, nil
}

func (s fakeUsers) UpdatePassword(ctx context.Context, uuid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uuid]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (s fakeUsers) UpdateScopes(ctx context.Context, uuid string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uuid]; ok {
		u.Scopes = scopes
	}
	return nil
}

func (s fakeUsers) Delete(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, uuid)
	return nil
}

type fakeTenants struct{ *fakeStore }

func (s fakeTenants) Create(ctx context.Context, t *identity.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tenants[t.Name] = &copied
	return nil
}

func (s fakeTenants) FindByName(ctx context.Context, name string) (*identity.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[name]
	if !ok {
		return nil, identity.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

type fakeBinds struct{ *fakeStore }

func (s fakeBinds) Upsert(ctx context.Context, b *identity.PermissionBind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.binds {
		if s.binds[i].UserID == b.UserID && s.binds[i].Tenant == b.Tenant {
			s.binds[i].Scopes = b.Scopes
			return nil
		}
	}
	s.binds = append(s.binds, *b)
	return nil
}

func (s fakeBinds) Find(ctx context.Context, userID, tenant string) ([]identity.PermissionBind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.PermissionBind
	for _, b := range s.binds {
		if b.UserID != userID {
			continue
		}
		if tenant != "" && b.Tenant != tenant {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

type fakeRefresh struct{ *fakeStore }

func (s fakeRefresh) Create(ctx context.Context, tok *identity.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tok
	s.refresh[tok.Token] = &copied
	return nil
}

func (s fakeRefresh) Find(ctx context.Context, token, status string) (*identity.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refresh[token]
	if !ok || tok.LoginStatus != status {
		return nil, identity.ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (s fakeRefresh) UpdateStatus(ctx context.Context, token, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.refresh[token]; ok {
		tok.LoginStatus = status
	}
	return nil
}

type fakeAccounts struct{ *fakeStore }

func (s fakeAccounts) FindByLogin(ctx context.Context, login string) (*identity.BasicAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[login]
	if !ok {
		return nil, identity.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s fakeAccounts) IncrementAttempts(ctx context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UUID == uuid {
			a.LoginAttempts++
			return a.LoginAttempts, nil
		}
	}
	return 0, identity.ErrNotFound
}

func (s fakeAccounts) ResetAttempts(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UUID == uuid {
			a.LoginAttempts = 0
			now := time.Now().UTC()
			a.LastLoginAt = &now
			return nil
		}
	}
	return identity.ErrNotFound
}

type fakeAPIKeys struct{ *fakeStore }

func (s fakeAPIKeys) Create(ctx context.Context, k *identity.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *k
	s.apiKeys[k.Prefix] = &copied
	return nil
}

func (s fakeAPIKeys) FindByPrefix(ctx context.Context, prefix string) (*identity.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[prefix]
	if !ok {
		return nil, identity.ErrNotFound
	}
	copied := *k
	return &copied, nil
}

type fakeCodes struct{ *fakeStore }

func (s fakeCodes) Create(ctx context.Context, c *identity.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *c
	s.codes[c.UserID+"/"+c.Code] = &copied
	return nil
}

func (s fakeCodes) Consume(ctx context.Context, userID, code string) (*identity.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + code
	c, ok := s.codes[key]
	if !ok {
		return nil, identity.ErrNotFound
	}
	delete(s.codes, key)
	copied := *c
	return &copied, nil
}
