package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	return New(store, "test-secret", 15*time.Minute, 24*time.Hour, WithBcryptCost(bcrypt.MinCost)), store
}

func TestRegisterIssuesTokens(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	tokens, err := svc.Register(ctx, "  Ada ", "Ada@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn != 900 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	claims, err := svc.Verify(tokens.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", claims.Email)
	}
	u, err := svc.Me(ctx, claims.Subject)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if u.Name != "Ada" || u.PasswordHash == "secret1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := store.GetRefreshToken(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("refresh token not stored: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		name, user, email, password string
	}{
		{"short name", "A", "a@example.com", "secret1"},
		{"bad email", "Ada", "not-an-email", "secret1"},
		{"display name email", "Ada", "Ada <ada@example.com>", "secret1"},
		{"short password", "Ada", "ada@example.com", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.user, tc.email, tc.password)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "Ada", "ADA@example.com", "secret2"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	first, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "ada@example.com", "wrong-pass"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad password, got %v", err)
	}
	if _, err := svc.Login(ctx, "bob@example.com", "secret1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}

	second, err := svc.Login(ctx, "ADA@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, first.RefreshToken); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected previous refresh token dropped, got %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, second.RefreshToken); err != nil {
		t.Fatalf("new refresh token missing: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tokens, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.RefreshToken != "" {
		t.Fatalf("unexpected refresh response: %+v", refreshed)
	}
	if _, err := svc.Verify(refreshed.AccessToken, KindAccess); err != nil {
		t.Fatalf("verify refreshed token: %v", err)
	}

	if _, err := svc.Refresh(ctx, tokens.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected access token rejected, got %v", err)
	}
	if _, err := svc.Refresh(ctx, "garbage"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unknown token rejected, got %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	store := storage.NewMemory()
	now := time.Now()
	svc := New(store, "test-secret", time.Minute, time.Hour,
		WithBcryptCost(bcrypt.MinCost),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	tokens, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := svc.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected expired refresh token rejected, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tokens, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := svc.Verify(tokens.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := svc.Logout(ctx, "someone-else", tokens.RefreshToken); err != nil {
		t.Fatalf("foreign logout: %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("foreign logout removed token: %v", err)
	}

	if err := svc.Logout(ctx, claims.Subject, tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
	if err := svc.Logout(ctx, claims.Subject, tokens.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now()
	cases := []struct {
		name   string
		method jwt.SigningMethod
		secret any
		claims jwt.MapClaims
	}{
		{
			name:   "wrong secret",
			method: jwt.SigningMethodHS256,
			secret: []byte("other"),
			claims: jwt.MapClaims{"sub": "u1", "iss": Issuer, "typ": KindAccess, "exp": now.Add(time.Minute).Unix()},
		},
		{
			name:   "wrong issuer",
			method: jwt.SigningMethodHS256,
			secret: []byte("test-secret"),
			claims: jwt.MapClaims{"sub": "u1", "iss": "elsewhere", "typ": KindAccess, "exp": now.Add(time.Minute).Unix()},
		},
		{
			name:   "expired",
			method: jwt.SigningMethodHS256,
			secret: []byte("test-secret"),
			claims: jwt.MapClaims{"sub": "u1", "iss": Issuer, "typ": KindAccess, "exp": now.Add(-time.Minute).Unix()},
		},
		{
			name:   "no subject",
			method: jwt.SigningMethodHS256,
			secret: []byte("test-secret"),
			claims: jwt.MapClaims{"iss": Issuer, "typ": KindAccess, "exp": now.Add(time.Minute).Unix()},
		},
		{
			name:   "hs512",
			method: jwt.SigningMethodHS512,
			secret: []byte("test-secret"),
			claims: jwt.MapClaims{"sub": "u1", "iss": Issuer, "typ": KindAccess, "exp": now.Add(time.Minute).Unix()},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(tc.method, tc.claims).SignedString(tc.secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := svc.Verify(signed, KindAccess); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}
