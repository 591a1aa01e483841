// Package auth implements account registration, login, and bearer
// session validation. This is the "opaque beyond a principal identity"
// collaborator §1 scopes out of the core spec: the rest of Beeps only
// ever sees an account id, never a password or token internal.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/storage"
)

// sessionTTL is how long an issued bearer token remains valid.
const sessionTTL = 30 * 24 * time.Hour

// Service issues and validates accounts/sessions against a Store.
type Service struct {
	store             *storage.Store
	secret            []byte
	allowRegistration bool
	logger            *zap.Logger
}

// New constructs a Service. secret signs issued JWTs; allowRegistration
// gates Register per §6's --allow-registration flag.
func New(store *storage.Store, secret []byte, allowRegistration bool, logger *zap.Logger) *Service {
	return &Service{store: store, secret: secret, allowRegistration: allowRegistration, logger: logger}
}

// Register creates a new account and returns its id and a bearer
// token for it. Returns ErrRegistrationDisabled or ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, password string) (accountID, token string, err error) {
	if !s.allowRegistration {
		return "", "", ErrRegistrationDisabled
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", "", err
	}

	id := ulid.Make().String()
	acct, err := s.store.CreateAccount(ctx, id, email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return "", "", ErrEmailTaken
		}
		return "", "", err
	}

	token, err = s.issueToken(ctx, acct.ID)
	if err != nil {
		return "", "", err
	}

	s.logger.Info("account registered", zap.String("account_id", acct.ID))
	return acct.ID, token, nil
}

// Login verifies email/password and returns a fresh bearer token.
// Returns ErrInvalidCredentials on any mismatch, deliberately not
// distinguishing "unknown email" from "wrong password."
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	match, err := argon2id.ComparePasswordAndHash(password, acct.PasswordHash)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrInvalidCredentials
	}

	return s.issueToken(ctx, acct.ID)
}

// WhoAmI resolves a bearer token to the account it was issued to.
// Returns ErrInvalidCredentials if the token is malformed, unsigned by
// this server, expired, or has been revoked (its session row is gone).
func (s *Service) WhoAmI(ctx context.Context, token string) (storage.Account, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || claims.Subject == "" {
		return storage.Account{}, ErrInvalidCredentials
	}

	if _, err := s.store.Session(ctx, token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Account{}, ErrInvalidCredentials
		}
		return storage.Account{}, err
	}

	acct, err := s.store.AccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Account{}, ErrInvalidCredentials
		}
		return storage.Account{}, err
	}
	return acct, nil
}

func (s *Service) issueToken(ctx context.Context, accountID string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(sessionTTL)

	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}

	if err := s.store.CreateSession(ctx, signed, accountID, expiresAt); err != nil {
		return "", err
	}
	return signed, nil
}
