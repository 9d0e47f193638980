package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package, so no
// other package can read or shadow these values.
type contextKey string

const (
	userIDKey   contextKey = "userID"
	identityKey contextKey = "identity"
)

// CookieName is the cookie the login handler stores the access token in.
const CookieName = "token"

// Verifier validates an access token. *TokenService implements it.
type Verifier interface {
	Validate(token string) (*Identity, error)
}

// UserResolver maps a token identity to an internal user ID, creating the user
// row on first sight. service.AuthService implements it.
type UserResolver interface {
	ResolveUser(ctx context.Context, id Identity) (string, error)
}

// RequireAuth rejects requests without a valid token with 401, and stores the
// caller's internal user ID and identity in the request context otherwise.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens Verifier, users UserResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := identify(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			userID, err := users.ResolveUser(r.Context(), *id)
			if err != nil {
				logger.Error("resolving authenticated user",
					slog.String("subject", id.Subject),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID, id)))
		})
	}
}

// OptionalAuth identifies the caller when a valid token is present but never
// blocks the request. Public chats are readable this way; handlers check
// UserIDFromContext to tell anonymous requests apart.
func OptionalAuth(tokens Verifier, users UserResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := identify(r, tokens); err == nil {
				userID, err := users.ResolveUser(r.Context(), *id)
				if err == nil {
					r = r.WithContext(withUser(r.Context(), userID, id))
				} else {
					logger.Warn("resolving optional user, continuing anonymously",
						slog.String("subject", id.Subject),
						slog.String("error", err.Error()),
					)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the internal ID of the authenticated caller.
// Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// IdentityFromContext returns the token identity of the authenticated caller.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// WithUser returns a context carrying userID and id, as the middleware does.
// Handler tests use it to skip token handling.
func WithUser(ctx context.Context, userID string, id *Identity) context.Context {
	return withUser(ctx, userID, id)
}

func withUser(ctx context.Context, userID string, id *Identity) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, identityKey, id)
}

// TokenFromRequest returns the bearer token, falling back to the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

func identify(r *http.Request, tokens Verifier) (*Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, errors.New("auth: no token")
	}
	return tokens.Validate(token)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message})
}
