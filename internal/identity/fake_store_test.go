package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sort"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store shared by the package tests.
type memStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*User
	order    map[string]int
	tenants  map[string]*Tenant
	binds    []PermissionBind
	refresh  map[string]*RefreshToken
	accounts map[string]*BasicAuthAccount
	apiKeys  map[string]*APIKey
	codes    map[string]*AuthCode

	refreshWriteErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*User),
		order:    make(map[string]int),
		tenants:  make(map[string]*Tenant),
		refresh:  make(map[string]*RefreshToken),
		accounts: make(map[string]*BasicAuthAccount),
		apiKeys:  make(map[string]*APIKey),
		codes:    make(map[string]*AuthCode),
	}
}

func (m *memStore) Users(context.Context) UserStore                 { return memUsers{m} }
func (m *memStore) Tenants(context.Context) TenantStore             { return memTenants{m} }
func (m *memStore) Binds(context.Context) BindStore                 { return memBinds{m} }
func (m *memStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefresh{m} }
func (m *memStore) BasicAccounts(context.Context) BasicAccountStore { return memAccounts{m} }
func (m *memStore) APIKeys(context.Context) APIKeyStore             { return memAPIKeys{m} }
func (m *memStore) AuthCodes(context.Context) AuthCodeStore         { return memCodes{m} }

// Test seeding helpers ------------------------------------------------------

func (m *memStore) addTenant(t *Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *t
	m.tenants[t.Name] = &copied
}

func (m *memStore) addAccount(a *BasicAuthAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.accounts[a.Login] = &copied
}

func (m *memStore) account(login string) *BasicAuthAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[login]
}

// Users ---------------------------------------------------------------------

type memUsers struct{ *memStore }

func (s memUsers) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.order[u.UUID] = s.seq
	copied := *u
	s.users[u.UUID] = &copied
	return nil
}

func (s memUsers) Find(ctx context.Context, uuid string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s memUsers) FindByField(ctx context.Context, field, value string) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*User
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

func (s memUsers) UpdatePassword(ctx context.Context, uuid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uuid]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (s memUsers) UpdateScopes(ctx context.Context, uuid string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uuid]; ok {
		u.Scopes = scopes
	}
	return nil
}

func (s memUsers) Delete(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, uuid)
	return nil
}

// Tenants -------------------------------------------------------------------

type memTenants struct{ *memStore }

func (s memTenants) Create(ctx context.Context, t *Tenant) error {
	s.addTenant(t)
	return nil
}

func (s memTenants) FindByName(ctx context.Context, name string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

// Binds ---------------------------------------------------------------------

type memBinds struct{ *memStore }

func (s memBinds) Upsert(ctx context.Context, b *PermissionBind) error {
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

func (s memBinds) Find(ctx context.Context, userID, tenant string) ([]PermissionBind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PermissionBind
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

// Refresh tokens ------------------------------------------------------------

type memRefresh struct{ *memStore }

func (s memRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshWriteErr != nil {
		return s.refreshWriteErr
	}
	copied := *tok
	s.refresh[tok.Token] = &copied
	return nil
}

func (s memRefresh) Find(ctx context.Context, token, status string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refresh[token]
	if !ok || tok.LoginStatus != status {
		return nil, ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (s memRefresh) UpdateStatus(ctx context.Context, token, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.refresh[token]; ok {
		tok.LoginStatus = status
	}
	return nil
}

// Basic-auth accounts -------------------------------------------------------

type memAccounts struct{ *memStore }

func (s memAccounts) FindByLogin(ctx context.Context, login string) (*BasicAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[login]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s memAccounts) IncrementAttempts(ctx context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UUID == uuid {
			a.LoginAttempts++
			return a.LoginAttempts, nil
		}
	}
	return 0, ErrNotFound
}

func (s memAccounts) ResetAttempts(ctx context.Context, uuid string) error {
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
	return ErrNotFound
}

// API keys ------------------------------------------------------------------

type memAPIKeys struct{ *memStore }

func (s memAPIKeys) Create(ctx context.Context, k *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *k
	s.apiKeys[k.Prefix] = &copied
	return nil
}

func (s memAPIKeys) FindByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[prefix]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *k
	return &copied, nil
}

// Auth codes ----------------------------------------------------------------

type memCodes struct{ *memStore }

func (s memCodes) Create(ctx context.Context, c *AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *c
	s.codes[c.UserID+"/"+c.Code] = &copied
	return nil
}

func (s memCodes) Consume(ctx context.Context, userID, code string) (*AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + code
	c, ok := s.codes[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.codes, key)
	copied := *c
	return &copied, nil
}

// Shared key material -------------------------------------------------------

// Generated once; RSA keygen dominates test time otherwise.
var (
	testKeyOnce sync.Once
	testPrivPEM string
	testPubPEM  string
)

func testKeyPair(t *testing.T) (string, string) {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		privDER := x509.MarshalPKCS1PrivateKey(key)
		testPrivPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER}))
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		testPubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	})
	return testPrivPEM, testPubPEM
}

func newTestService(t *testing.T, store Store, opts ...ServiceOption) *Service {
	t.Helper()
	priv, pub := testKeyPair(t)
	base := []ServiceOption{
		WithRS256Keys(priv, pub),
		WithIssuer("tessera-test"),
		WithAudience("tessera-services"),
		WithHashCost(4), // min cost keeps the suite fast
	}
	svc, err := NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}
