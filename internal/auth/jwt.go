// Package auth validates Supabase access tokens and talks to Supabase's auth API.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The browser signs up or logs in through /auth/signup or /auth/login, which
//     forward to Supabase (GoTrue) and return its access token
//  2. The frontend sends the token as "Authorization: Bearer <jwt>" (or the
//     "token" cookie set on login)
//  3. The middleware validates the token locally: signature, expiry, audience
//  4. The Supabase subject is resolved to our internal user ID, which is stored
//     in the request context for handlers
//
// Local validation needs either the project's JWT secret (HS256, older projects)
// or the project's JWKS endpoint (RS256/ES256 signing keys). Both may be set.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAudience is the "aud" claim Supabase puts on user access tokens.
const DefaultAudience = "authenticated"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is who a valid token belongs to.
type Identity struct {
	Subject  string // Supabase user UUID
	Email    string
	Username string // user_metadata.username, set at signup
	Role     string
}

// Claims is the subset of the Supabase access token payload we read.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	Role         string       `json:"role,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

type UserMetadata struct {
	Username string `json:"username,omitempty"`
}

// TokenService validates (and, with a secret, issues) access tokens.
type TokenService struct {
	secret   []byte
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
}

type Option func(*TokenService)

// WithJWKS verifies asymmetric tokens against the given key set.
func WithJWKS(jwks *keyfunc.JWKS) Option {
	return func(s *TokenService) { s.jwks = jwks }
}

// WithAudience overrides DefaultAudience. An empty audience disables the check.
func WithAudience(aud string) Option {
	return func(s *TokenService) { s.audience = aud }
}

// WithIssuer requires the "iss" claim, e.g. "https://<project>.supabase.co/auth/v1".
func WithIssuer(iss string) Option {
	return func(s *TokenService) { s.issuer = iss }
}

// NewTokenService creates a TokenService. secret may be empty only when a JWKS is
// supplied; otherwise it must be at least 16 characters.
func NewTokenService(secret string, opts ...Option) (*TokenService, error) {
	s := &TokenService{audience: DefaultAudience}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case secret == "" && s.jwks == nil:
		return nil, errors.New("auth: a JWT secret or a JWKS URL is required")
	case secret != "" && len(secret) < 16:
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s, nil
}

// NewJWKS fetches the key set at url and refreshes it in the background until ctx
// is cancelled or Close is called.
func NewJWKS(ctx context.Context, url string, logger *slog.Logger) (*keyfunc.JWKS, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error("jwks refresh failed", slog.String("url", url), slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("auth: fetching JWKS from %s: %w", url, err)
	}
	return jwks, nil
}

// Close stops the JWKS background refresh, if any.
func (s *TokenService) Close() {
	if s.jwks != nil {
		s.jwks.EndBackground()
	}
}

// Issue signs an HS256 token for id that looks like a Supabase access token.
// Used by tests and local tooling; production tokens come from Supabase.
func (s *TokenService) Issue(id Identity, ttl time.Duration) (string, error) {
	if s.secret == nil {
		return "", errors.New("auth: issuing tokens requires a JWT secret")
	}
	now := time.Now()
	c := Claims{
		Email:        id.Email,
		Role:         "authenticated",
		UserMetadata: UserMetadata{Username: id.Username},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.audience != "" {
		c.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies tokenStr and returns its identity.
//
// VALIDATION CHECKS:
//   - the algorithm is one we hold a key for (HS256 with the secret, RS256/ES256
//     with the JWKS); "none" and algorithm swaps are rejected
//   - signature, "exp" present and in the future
//   - audience and issuer, when configured
//   - "sub" is a UUID
func (s *TokenService) Validate(tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(s.methods()),
		jwt.WithExpirationRequired(),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, s.keyFor, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if _, err := uuid.Parse(c.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a UUID", ErrInvalidToken)
	}

	return &Identity{
		Subject:  c.Subject,
		Email:    c.Email,
		Username: c.UserMetadata.Username,
		Role:     c.Role,
	}, nil
}

func (s *TokenService) methods() []string {
	var m []string
	if s.secret != nil {
		m = append(m, "HS256")
	}
	if s.jwks != nil {
		m = append(m, "RS256", "ES256")
	}
	return m
}

func (s *TokenService) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if s.secret == nil {
			return nil, fmt.Errorf("auth: HMAC token but no secret configured")
		}
		return s.secret, nil
	}
	if s.jwks == nil {
		return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
	}
	return s.jwks.Keyfunc(token)
}
