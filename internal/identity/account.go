package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RegisterRequest carries the fields accepted at registration. At least one
// of Email and Username must be set.
type RegisterRequest struct {
	Email     string
	Username  string
	Phone     string
	Password  string
	Tenant    string
	FirstName string
	LastName  string
	Locale    string
}

// Register creates a user and issues a first token pair.
//
// Duplicate races are resolved by creation order: after insert the email is
// re-queried, and if an earlier row exists the new row is deleted and the
// registration rejected. The earliest-created row always wins.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, TokenPair, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	req.Tenant = strings.TrimSpace(req.Tenant)
	if req.Email == "" && req.Username == "" && strings.TrimSpace(req.Phone) == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: email, username or phone is required", ErrUserNotFound)
	}
	// A tenant-less user would be issued a token its own verifier rejects.
	if req.Tenant == "" {
		return nil, TokenPair{}, ErrTenantRequired
	}
	if req.Password == "" {
		return nil, TokenPair{}, ErrPasswordMismatch
	}

	users := s.store.Users(ctx)
	field, value := registrationKey(req)
	existing, err := users.FindByField(ctx, field, value)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if len(existing) > 0 {
		return nil, TokenPair{}, ErrEmailAlreadyRegistered
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	user := &User{
		UUID:         uuid.NewString(),
		Tenant:       req.Tenant,
		Username:     req.Username,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Locale:       strings.TrimSpace(req.Locale),
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, TokenPair{}, fmt.Errorf("%w: insert user: %v", ErrStoreWrite, err)
	}

	// Re-query to settle concurrent registrations on the same key.
	rows, err := users.FindByField(ctx, field, value)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if len(rows) > 0 && rows[0].UUID != user.UUID {
		_ = users.Delete(ctx, user.UUID)
		return nil, TokenPair{}, ErrEmailAlreadyRegistered
	}

	pair, err := s.IssueTokens(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func registrationKey(req RegisterRequest) (field, value string) {
	if req.Email != "" {
		return "email", req.Email
	}
	if req.Username != "" {
		return "username", req.Username
	}
	return "phone", strings.TrimSpace(req.Phone)
}

// Login authenticates by email or username plus password and issues tokens.
func (s *Service) Login(ctx context.Context, login, password string) (*User, TokenPair, error) {
	user, err := s.findByLogin(ctx, login)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if user.PasswordHash == "" {
		return nil, TokenPair{}, ErrPasswordMismatch
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrPasswordMismatch
	}
	pair, err := s.IssueTokens(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) findByLogin(ctx context.Context, login string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, ErrUserNotFound
	}
	field := "username"
	if strings.Contains(login, "@") {
		field = "email"
		login = strings.ToLower(login)
	}
	rows, err := s.store.Users(ctx).FindByField(ctx, field, login)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUserNotFound
	}
	// Earliest-created row is authoritative when duplicates slipped in.
	return rows[0], nil
}

// ChangePassword rotates a user's password after verifying the current
// one. Active refresh tokens are untouched; revocation is a separate
// logout decision.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return ErrPasswordMismatch
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.PasswordHash == "" {
		return ErrPasswordMismatch
	}
	if err := s.hasher.Compare(user.PasswordHash, current); err != nil {
		return ErrPasswordMismatch
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("%w: update password: %v", ErrStoreWrite, err)
	}
	return nil
}

// IssueLoginCode persists a short-lived one-time code for the user
// identified by email. The code itself is returned for delivery by the
// caller (mail/SMS is a collaborator concern).
func (s *Service) IssueLoginCode(ctx context.Context, email string) (*AuthCode, error) {
	user, err := s.findByLogin(ctx, email)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	code := &AuthCode{
		UUID:     uuid.NewString(),
		UserID:   user.UUID,
		Code:     hex.EncodeToString(buf),
		LiveTime: now.Add(s.codeTTL),
		BondTime: now,
	}
	if err := s.store.AuthCodes(ctx).Create(ctx, code); err != nil {
		return nil, fmt.Errorf("%w: insert auth code: %v", ErrStoreWrite, err)
	}
	return code, nil
}

// LoginWithCode consumes a one-time code and issues tokens. Expired or
// already-consumed codes deny uniformly.
func (s *Service) LoginWithCode(ctx context.Context, email, code string) (*User, TokenPair, error) {
	user, err := s.findByLogin(ctx, email)
	if err != nil {
		return nil, TokenPair{}, err
	}
	record, err := s.store.AuthCodes(ctx).Consume(ctx, user.UUID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, ErrDenied
		}
		return nil, TokenPair{}, err
	}
	if s.now().After(record.LiveTime) {
		return nil, TokenPair{}, ErrDenied
	}
	pair, err := s.IssueTokens(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}
