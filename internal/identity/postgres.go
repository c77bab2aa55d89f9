package identity

import (
	"context"
	"database/sql"
	"encoding/json"

	"tessera.id/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore         { return &userStore{db: s.db} }
func (s *PGStore) Tenants(context.Context) TenantStore     { return &tenantStore{db: s.db} }
func (s *PGStore) Binds(context.Context) BindStore         { return &bindStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}
func (s *PGStore) BasicAccounts(context.Context) BasicAccountStore {
	return &basicAccountStore{db: s.db}
}
func (s *PGStore) APIKeys(context.Context) APIKeyStore     { return &apiKeyStore{db: s.db} }
func (s *PGStore) AuthCodes(context.Context) AuthCodeStore { return &authCodeStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

var userFieldColumns = map[string]string{
	"email":    "email",
	"username": "username",
	"phone":    "phone",
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	scopes, _ := json.Marshal(u.Scopes)
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, uuid, tenant, username, email, phone, password_hash, scopes, first_name, last_name, locale)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ids.New(), u.UUID, u.Tenant, nullable(u.Username), nullable(u.Email), nullable(u.Phone),
		u.PasswordHash, scopes, u.FirstName, u.LastName, u.Locale,
	)
	return err
}

const userColumns = `uuid, tenant, coalesce(username,''), coalesce(email,''), coalesce(phone,''),
	coalesce(password_hash,''), scopes, first_name, last_name, locale, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u      User
		scopes []byte
	)
	if err := row.Scan(&u.UUID, &u.Tenant, &u.Username, &u.Email, &u.Phone,
		&u.PasswordHash, &scopes, &u.FirstName, &u.LastName, &u.Locale, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(scopes, &u.Scopes)
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, uuid string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where uuid=$1`, uuid)
	return scanUser(row)
}

func (s *userStore) FindByField(ctx context.Context, field, value string) ([]*User, error) {
	column, ok := userFieldColumns[field]
	if !ok {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where `+column+`=$1 order by created_at asc`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) UpdatePassword(ctx context.Context, uuid, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where uuid=$1`, uuid, passwordHash)
	return err
}

func (s *userStore) UpdateScopes(ctx context.Context, uuid string, scopes []string) error {
	raw, _ := json.Marshal(scopes)
	_, err := s.db.ExecContext(ctx,
		`update users set scopes=$2, updated_at=now() where uuid=$1`, uuid, raw)
	return err
}

func (s *userStore) Delete(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `delete from users where uuid=$1`, uuid)
	return err
}

// Tenant store -------------------------------------------------------------
type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Create(ctx context.Context, t *Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into tenants(id, name, tenant_type, parent_tenant, owner_user_id) values($1,$2,$3,$4,$5)`,
		ids.New(), t.Name, t.TenantType, nullable(t.ParentTenant), nullable(t.OwnerUserID),
	)
	return err
}

func (s *tenantStore) FindByName(ctx context.Context, name string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select name, tenant_type, coalesce(parent_tenant,''), coalesce(owner_user_id,''), created_at, updated_at
		 from tenants where name=$1`, name)
	var t Tenant
	if err := row.Scan(&t.Name, &t.TenantType, &t.ParentTenant, &t.OwnerUserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Bind store ---------------------------------------------------------------
type bindStore struct{ db *sql.DB }

func (s *bindStore) Upsert(ctx context.Context, b *PermissionBind) error {
	scopes, _ := json.Marshal(b.Scopes)
	_, err := s.db.ExecContext(ctx,
		`insert into permission_binds(id, user_id, tenant, scopes) values($1,$2,$3,$4)
		 on conflict (user_id, tenant) do update set scopes=excluded.scopes`,
		ids.New(), b.UserID, b.Tenant, scopes,
	)
	return err
}

func (s *bindStore) Find(ctx context.Context, userID, tenant string) ([]PermissionBind, error) {
	query := `select user_id, tenant, scopes, created_at from permission_binds where user_id=$1`
	args := []any{userID}
	if tenant != "" {
		query += ` and tenant=$2`
		args = append(args, tenant)
	}
	query += ` order by created_at asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var binds []PermissionBind
	for rows.Next() {
		var (
			b      PermissionBind
			scopes []byte
		)
		if err := rows.Scan(&b.UserID, &b.Tenant, &scopes, &b.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(scopes, &b.Scopes)
		binds = append(binds, b)
	}
	return binds, rows.Err()
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, uuid, token, user_id, login_status) values($1,$2,$3,$4,$5)`,
		ids.New(), tok.UUID, tok.Token, tok.UserID, tok.LoginStatus,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, token, status string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select uuid, token, user_id, login_status, created_at from refresh_tokens where token=$1 and login_status=$2`,
		token, status)
	var tok RefreshToken
	if err := row.Scan(&tok.UUID, &tok.Token, &tok.UserID, &tok.LoginStatus, &tok.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *refreshTokenStore) UpdateStatus(ctx context.Context, token, status string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set login_status=$2 where token=$1`, token, status)
	return err
}

// Basic-auth account store -------------------------------------------------
type basicAccountStore struct{ db *sql.DB }

func (s *basicAccountStore) FindByLogin(ctx context.Context, login string) (*BasicAuthAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`select uuid, login, password_hash, status, login_attempts, last_login_at, created_at, updated_at
		 from basic_auth_accounts where login=$1`, login)
	var (
		a    BasicAuthAccount
		last sql.NullTime
	)
	if err := row.Scan(&a.UUID, &a.Login, &a.PasswordHash, &a.Status, &a.LoginAttempts, &last, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if last.Valid {
		t := last.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

// IncrementAttempts bumps the counter store-side so concurrent failed logins
// never lose updates, and returns the new value.
func (s *basicAccountStore) IncrementAttempts(ctx context.Context, uuid string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`update basic_auth_accounts set login_attempts = login_attempts + 1, updated_at=now()
		 where uuid=$1 returning login_attempts`, uuid)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

func (s *basicAccountStore) ResetAttempts(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx,
		`update basic_auth_accounts set login_attempts = 0, last_login_at=now(), updated_at=now() where uuid=$1`, uuid)
	return err
}

// API key store ------------------------------------------------------------
type apiKeyStore struct{ db *sql.DB }

func (s *apiKeyStore) Create(ctx context.Context, k *APIKey) error {
	scopes, _ := json.Marshal(k.Scopes)
	tenants, _ := json.Marshal(k.Tenants)
	_, err := s.db.ExecContext(ctx,
		`insert into api_keys(id, uuid, user_id, prefix, secret_hash, status, scopes, tenants)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		ids.New(), k.UUID, k.UserID, k.Prefix, k.SecretHash, k.Status, scopes, tenants,
	)
	return err
}

func (s *apiKeyStore) FindByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`select uuid, user_id, prefix, secret_hash, status, scopes, tenants, created_at
		 from api_keys where prefix=$1`, prefix)
	var (
		k       APIKey
		scopes  []byte
		tenants []byte
	)
	if err := row.Scan(&k.UUID, &k.UserID, &k.Prefix, &k.SecretHash, &k.Status, &scopes, &tenants, &k.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(scopes, &k.Scopes)
	_ = json.Unmarshal(tenants, &k.Tenants)
	return &k, nil
}

// Auth code store ----------------------------------------------------------
type authCodeStore struct{ db *sql.DB }

func (s *authCodeStore) Create(ctx context.Context, c *AuthCode) error {
	_, err := s.db.ExecContext(ctx,
		`insert into auth_codes(id, uuid, user_id, code, live_time, bond_time) values($1,$2,$3,$4,$5,$6)`,
		ids.New(), c.UUID, c.UserID, c.Code, c.LiveTime, c.BondTime,
	)
	return err
}

// Consume fetches and deletes the code in one statement so a code can only
// ever be redeemed once.
func (s *authCodeStore) Consume(ctx context.Context, userID, code string) (*AuthCode, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from auth_codes where user_id=$1 and code=$2
		 returning uuid, user_id, code, live_time, bond_time`, userID, code)
	var c AuthCode
	if err := row.Scan(&c.UUID, &c.UserID, &c.Code, &c.LiveTime, &c.BondTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
