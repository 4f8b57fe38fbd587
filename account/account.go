// Package account registers users and issues the JWT pairs they
// authenticate with.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskboard-api/domain"
)

const (
	// TokenType is the scheme clients send tokens with.
	TokenType = "Bearer"

	KindAccess  = "access"
	KindRefresh = "refresh"

	// Issuer is stamped on every token this package signs.
	Issuer = "taskboard-api"

	minNameLen     = 2
	minPasswordLen = 6
)

// Tokens is what register, login and refresh hand back to the client.
type Tokens struct {
	TokenType    string `json:"tokenType"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Claims are the JWT claims of access and refresh tokens.
type Claims struct {
	Email string `json:"email"`
	Kind  string `json:"typ"`
	jwt.RegisteredClaims
}

// Service manages credentials and tokens.
type Service struct {
	users      domain.UserStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
	parser     *jwt.Parser
}

// Option customizes a Service.
type Option func(*Service)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service signing tokens with secret.
func New(users domain.UserStore, secret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		users:      users,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return s
}

// Register creates an account and signs the user in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Tokens, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < minNameLen {
		return Tokens{}, fmt.Errorf("%w: name must have at least %d characters", domain.ErrValidation, minNameLen)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Tokens{}, err
	}
	if err := checkPassword(password); err != nil {
		return Tokens{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Tokens{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return Tokens{}, err
	}
	return s.signIn(ctx, u)
}

// Login checks credentials. Unknown emails and wrong passwords both report
// domain.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Tokens{}, err
	}
	if err := checkPassword(password); err != nil {
		return Tokens{}, err
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return Tokens{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if err != nil {
		return Tokens{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	return s.signIn(ctx, u)
}

// signIn replaces every stored refresh token of u with a fresh pair.
func (s *Service) signIn(ctx context.Context, u domain.User) (Tokens, error) {
	access, _, err := s.sign(u.ID, u.Email, KindAccess, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, expires, err := s.sign(u.ID, u.Email, KindRefresh, s.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.users.DeleteUserRefreshTokens(ctx, u.ID); err != nil {
		return Tokens{}, fmt.Errorf("drop refresh tokens: %w", err)
	}
	if err := s.users.SaveRefreshToken(ctx, domain.RefreshToken{Token: refresh, UserID: u.ID, ExpiresAt: expires}); err != nil {
		return Tokens{}, fmt.Errorf("save refresh token: %w", err)
	}
	return Tokens{
		TokenType:    TokenType,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Refresh trades a stored, unexpired refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	stored, err := s.users.GetRefreshToken(ctx, refreshToken)
	if errors.Is(err, domain.ErrNotFound) {
		return Tokens{}, fmt.Errorf("%w: invalid refresh token", domain.ErrUnauthorized)
	}
	if err != nil {
		return Tokens{}, err
	}
	claims, err := s.Verify(refreshToken, KindRefresh)
	if err != nil {
		return Tokens{}, err
	}
	if claims.Subject != stored.UserID || !s.now().Before(stored.ExpiresAt) {
		return Tokens{}, fmt.Errorf("%w: refresh token expired", domain.ErrUnauthorized)
	}
	access, _, err := s.sign(claims.Subject, claims.Email, KindAccess, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{TokenType: TokenType, AccessToken: access, ExpiresIn: int(s.accessTTL.Seconds())}, nil
}

// Logout forgets refreshToken if it belongs to userID.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	stored, err := s.users.GetRefreshToken(ctx, refreshToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored.UserID != userID {
		return nil
	}
	return s.users.DeleteRefreshToken(ctx, refreshToken)
}

// Me returns the profile of userID.
func (s *Service) Me(ctx context.Context, userID string) (domain.User, error) {
	return s.users.GetUser(ctx, userID)
}

// Verify parses a token this service signed and checks its kind and lifetime.
func (s *Service) Verify(token, kind string) (Claims, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	now := s.now()
	if !claims.VerifyExpiresAt(now, true) {
		return Claims{}, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	}
	if !claims.VerifyIssuer(Issuer, true) || claims.Kind != kind || claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: unexpected token", domain.ErrUnauthorized)
	}
	return claims, nil
}

func (s *Service) sign(userID, email, kind string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(ttl)
	claims := Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expires, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", domain.ErrValidation)
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must have at least %d characters", domain.ErrValidation, minPasswordLen)
	}
	return nil
}
