package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/storage"
)

func TestService_RegisterDisabled(t *testing.T) {
	svc := New(nil, []byte("secret"), false, zap.NewNop())

	_, _, err := svc.Register(context.Background(), "a@example.com", "hunter2")
	if err != ErrRegistrationDisabled {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
}

// newTestStore connects to TEST_DATABASE_URL and applies migrations,
// skipping the test if that env var is unset (these exercise a real
// Postgres instance, matching internal/storage's own test gating).
func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed auth tests")
	}

	if err := storage.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.Open(context.Background(), url, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestService_RegisterThenLogin(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, []byte("secret"), true, zap.NewNop())
	ctx := context.Background()

	accountID, token, err := svc.Register(ctx, "register@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if accountID == "" || token == "" {
		t.Fatal("expected a non-empty account id and token")
	}

	if _, _, err := svc.Register(ctx, "register@example.com", "different"); err != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken on duplicate email, got %v", err)
	}

	loginToken, err := svc.Login(ctx, "register@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if loginToken == "" {
		t.Fatal("expected a non-empty login token")
	}

	if _, err := svc.Login(ctx, "register@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for a wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter2"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for an unknown email, got %v", err)
	}
}

func TestService_WhoAmI(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, []byte("secret"), true, zap.NewNop())
	ctx := context.Background()

	accountID, token, err := svc.Register(ctx, "whoami@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	acct, err := svc.WhoAmI(ctx, token)
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if acct.ID != accountID {
		t.Errorf("expected account id %q, got %q", accountID, acct.ID)
	}

	if _, err := svc.WhoAmI(ctx, "not-a-real-token"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for a malformed token, got %v", err)
	}

	otherSvc := New(store, []byte("a-different-secret"), true, zap.NewNop())
	if _, err := otherSvc.WhoAmI(ctx, token); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for a token signed with another secret, got %v", err)
	}

	// A well-formed, correctly-signed token whose session row has
	// already expired should be rejected without ever waiting out a
	// real TTL.
	expired, err := signToken(svc, accountID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if err := store.CreateSession(ctx, expired, accountID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.WhoAmI(ctx, expired); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for an expired session, got %v", err)
	}
}

// signToken mints a JWT the same way issueToken does, without touching
// the sessions table, so callers can pair it with a session row of
// their own choosing.
func signToken(svc *Service, accountID string, issuedAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.secret)
}
