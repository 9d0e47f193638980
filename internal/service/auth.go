package service

// AuthService is the account layer:
//
//	AuthHandler (HTTP) → AuthService (rules) → UserRepository (DB)
//	                   ↘ IdentityProvider (Supabase)
//
// Supabase owns passwords and sessions. We keep one users row per Supabase
// identity so chats can reference an ID we control, and so usernames stay unique.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/repository"
)

// MinPasswordLength matches Supabase's default policy.
const MinPasswordLength = 6

// maxCreateAttempts bounds username retries when creating a user on first sight.
const maxCreateAttempts = 3

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
	usernameInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// IdentityProvider is the subset of the Supabase auth API we use.
// *auth.SupabaseClient implements it.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password, username string) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
}

type AuthService struct {
	users  repository.UserRepository
	idp    IdentityProvider
	logger *slog.Logger
}

// NewAuthService wires the account service. idp may be nil when Supabase is not
// configured; token-based access still works, signup and login then fail.
func NewAuthService(users repository.UserRepository, idp IdentityProvider, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, idp: idp, logger: logger}
}

// AuthResult bundles the user record and the access token so the handler can set
// the cookie and respond in one step. Token is empty when Supabase is waiting for
// the user to confirm their email address.
type AuthResult struct {
	User  *model.User
	Token string
}

// SignUp registers a new account with Supabase and creates the matching user.
func (s *AuthService) SignUp(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if !usernamePattern.MatchString(username) {
		return nil, apperror.ValidationFailed("username",
			"username must be 3-32 characters of letters, digits, '_' or '-'")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if s.idp == nil {
		return nil, errors.New("service/auth: no identity provider configured")
	}

	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, apperror.Conflict("username", username)
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("service/auth: checking username %q: %w", username, err)
	}

	session, err := s.idp.SignUp(ctx, email, password, username)
	if err != nil {
		return nil, mapProviderError(err, email)
	}
	if session.User.ID == "" {
		return nil, errors.New("service/auth: sign-up returned no user id")
	}

	user := &model.User{AuthID: session.User.ID, Username: username, Email: email}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: saving user %q: %w", username, err)
	}

	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("username", username),
		slog.Bool("confirmed", session.AccessToken != ""),
	)
	return &AuthResult{User: user, Token: session.AccessToken}, nil
}

// Login exchanges email and password for a Supabase access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}
	if s.idp == nil {
		return nil, errors.New("service/auth: no identity provider configured")
	}

	session, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		return nil, mapProviderError(err, email)
	}

	user, err := s.resolve(ctx, auth.Identity{
		Subject:  session.User.ID,
		Email:    session.User.Email,
		Username: session.User.UserMetadata.Username,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: session.AccessToken}, nil
}

// Me returns the user for the given internal ID.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.users.GetUserByID(ctx, userID)
}

// ChangePassword sets a new password for the user owning accessToken.
func (s *AuthService) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	if accessToken == "" {
		return apperror.Unauthorized("authentication required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if s.idp == nil {
		return errors.New("service/auth: no identity provider configured")
	}
	if err := s.idp.UpdatePassword(ctx, accessToken, newPassword); err != nil {
		return mapProviderError(err, "")
	}
	return nil
}

// ResolveUser returns the internal user ID for a validated token identity,
// creating the user on first sight. It implements auth.UserResolver.
func (s *AuthService) ResolveUser(ctx context.Context, id auth.Identity) (string, error) {
	user, err := s.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (s *AuthService) resolve(ctx context.Context, id auth.Identity) (*model.User, error) {
	if id.Subject == "" {
		return nil, apperror.Unauthorized("token has no subject")
	}

	user, err := s.users.GetUserByAuthID(ctx, id.Subject)
	if err == nil {
		if id.Email != "" && id.Email != user.Email {
			user.Email = id.Email
			if err := s.users.Upsert(ctx, user); err != nil {
				return nil, fmt.Errorf("service/auth: refreshing user %s: %w", user.ID, err)
			}
		}
		return user, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("service/auth: looking up identity %s: %w", id.Subject, err)
	}

	// First request of an identity created outside our signup endpoint. Parallel
	// first requests race here: the loser sees a conflict and reads the winner's row.
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		username, err := s.freeUsername(ctx, id)
		if err != nil {
			return nil, err
		}
		user = &model.User{AuthID: id.Subject, Username: username, Email: id.Email}
		err = s.users.CreateUser(ctx, user)
		if err == nil {
			s.logger.Info("user created from token identity",
				slog.String("userID", user.ID),
				slog.String("username", username),
			)
			return user, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/auth: creating user for identity %s: %w", id.Subject, err)
		}

		existing, getErr := s.users.GetUserByAuthID(ctx, id.Subject)
		if getErr == nil {
			return existing, nil
		}
		if !isNotFound(getErr) {
			return nil, fmt.Errorf("service/auth: looking up identity %s: %w", id.Subject, getErr)
		}
		// A different identity took the username; pick again.
	}
	return nil, fmt.Errorf("service/auth: creating user for identity %s: no free username after %d attempts",
		id.Subject, maxCreateAttempts)
}

// freeUsername picks the token's username, or the email local part, and
// disambiguates it with the start of the subject when it is already taken.
func (s *AuthService) freeUsername(ctx context.Context, id auth.Identity) (string, error) {
	base := id.Username
	if !usernamePattern.MatchString(base) {
		local, _, _ := strings.Cut(id.Email, "@")
		base = usernameInvalid.ReplaceAllString(local, "")
	}
	if len(base) > 24 {
		base = base[:24]
	}
	if len(base) < 3 {
		base = "user"
	}

	suffix := strings.ReplaceAll(id.Subject, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	for _, candidate := range []string{base, base + "-" + suffix} {
		_, err := s.users.GetUserByUsername(ctx, candidate)
		if isNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("service/auth: checking username %q: %w", candidate, err)
		}
	}
	return "", apperror.Conflict("username", base)
}

// mapProviderError turns Supabase answers into domain errors. Transport
// failures stay internal.
func mapProviderError(err error, email string) error {
	var se *auth.SupabaseError
	if !errors.As(err, &se) {
		return fmt.Errorf("service/auth: identity provider: %w", err)
	}

	switch {
	case se.Code == "user_already_exists" || se.Code == "email_exists" ||
		strings.Contains(strings.ToLower(se.Message), "already registered"):
		return apperror.Conflict("email", email)
	case se.Code == "invalid_grant" || se.Code == "invalid_credentials" ||
		se.Status == http.StatusUnauthorized:
		return apperror.Unauthorized("invalid email or password")
	case se.Status == http.StatusForbidden:
		return apperror.Forbidden(se.Message)
	case se.Status >= 400 && se.Status < 500:
		return apperror.ValidationFailed("", se.Message)
	default:
		return fmt.Errorf("service/auth: identity provider: %w", err)
	}
}

func validateEmail(email string) error {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || !strings.Contains(domain, ".") || len(email) > 254 {
		return apperror.ValidationFailed("email", "a valid email address is required")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	return nil
}
