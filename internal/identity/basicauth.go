package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

const basicScheme = "Basic "

// ParseBasicHeader decodes a "Basic base64(login:password)" header.
// Malformed encoding or a missing separator denies immediately, before any
// store lookup.
func ParseBasicHeader(header string) (login, password string, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, basicScheme) {
		return "", "", ErrDenied
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(basicScheme):]))
	if err != nil {
		return "", "", ErrDenied
	}
	login, password, ok := strings.Cut(string(decoded), ":")
	if !ok || login == "" {
		return "", "", ErrDenied
	}
	return login, password, nil
}

// VerifyBasicAuth checks a basic-auth header against the account store.
//
// Lockout is evaluated before the hash comparison: once the attempt counter
// reaches the threshold every attempt is denied regardless of password
// correctness, which also avoids timing leakage about the password once
// locked. The counter increment is atomic at the store layer.
func (s *Service) VerifyBasicAuth(ctx context.Context, header string) (*BasicAuthAccount, error) {
	login, password, err := ParseBasicHeader(header)
	if err != nil {
		return nil, err
	}

	account, err := s.store.BasicAccounts(ctx).FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	if account.Status != AccountStatusActive {
		return nil, ErrCredentialLocked
	}
	if account.LoginAttempts >= s.maxAttempts {
		return nil, ErrCredentialLocked
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		n, incErr := s.store.BasicAccounts(ctx).IncrementAttempts(ctx, account.UUID)
		if incErr != nil {
			return nil, incErr
		}
		if n == s.maxAttempts && s.onLockout != nil {
			s.onLockout(account.Login)
		}
		return nil, ErrCredentialMismatch
	}

	if err := s.store.BasicAccounts(ctx).ResetAttempts(ctx, account.UUID); err != nil {
		return nil, err
	}
	account.LoginAttempts = 0
	now := s.now().UTC()
	account.LastLoginAt = &now
	return account, nil
}
