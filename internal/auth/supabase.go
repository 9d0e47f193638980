package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// SupabaseClient calls the Supabase auth (GoTrue) REST API.
// Passwords never touch our database; this client only forwards them.
type SupabaseClient struct {
	http *resty.Client
}

// Session is a GoTrue sign-in result.
type Session struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         SupabaseUser `json:"user"`
}

type SupabaseUser struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
	ConfirmedAt  *time.Time   `json:"confirmed_at,omitempty"`
}

// SupabaseError is a non-2xx answer from GoTrue.
type SupabaseError struct {
	Status  int
	Code    string
	Message string
}

func (e *SupabaseError) Error() string {
	return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
}

// gotrueError covers both error shapes GoTrue returns.
type gotrueError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewSupabaseClient points at {projectURL}/auth/v1 and authenticates with the
// project's anon key.
func NewSupabaseClient(projectURL, anonKey string, timeout time.Duration) *SupabaseClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(projectURL, "/")+"/auth/v1").
		SetHeader("apikey", anonKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &SupabaseClient{http: c}
}

// SignUp registers email/password and stores username in user metadata. When the
// project requires email confirmation GoTrue answers with a bare user and no
// session; the returned Session then has an empty AccessToken.
func (c *SupabaseClient) SignUp(ctx context.Context, email, password, username string) (*Session, error) {
	var raw struct {
		Session
		SupabaseUser // top-level user when no session is issued
	}
	var apiErr gotrueError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"email":    email,
			"password": password,
			"data":     map[string]string{"username": username},
		}).
		SetResult(&raw).
		SetError(&apiErr).
		Post("/signup")
	if err := check(resp, err, &apiErr, "signup"); err != nil {
		return nil, err
	}

	s := raw.Session
	if s.User.ID == "" {
		s.User = raw.SupabaseUser
	}
	return &s, nil
}

// SignIn exchanges email and password for a session.
func (c *SupabaseClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	var apiErr gotrueError

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&s).
		SetError(&apiErr).
		Post("/token")
	if err := check(resp, err, &apiErr, "sign in"); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdatePassword changes the password of the user owning accessToken.
func (c *SupabaseClient) UpdatePassword(ctx context.Context, accessToken, password string) error {
	var apiErr gotrueError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]string{"password": password}).
		SetError(&apiErr).
		Put("/user")
	return check(resp, err, &apiErr, "update password")
}

func check(resp *resty.Response, err error, apiErr *gotrueError, op string) error {
	if err != nil {
		return fmt.Errorf("supabase: %s request failed: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}

	e := &SupabaseError{Status: resp.StatusCode(), Code: apiErr.ErrorCode}
	if e.Code == "" {
		e.Code = apiErr.Error
	}
	for _, m := range []string{apiErr.Msg, apiErr.Message, apiErr.ErrorDescription} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = resp.String()
	}
	return e
}
