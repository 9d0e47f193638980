package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/service"
)

// AuthHandler forwards account operations to Supabase through the service.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp          → create an account, return user + token
//   - HandleLogin           → password login, set the token cookie
//   - HandleLogout          → clear the token cookie
//   - HandleChangePassword  → set a new password for the caller
//   - HandleMe              → return the current user's profile
type AuthHandler struct {
	accounts     *service.AuthService
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookie should be true whenever the
// site is served over HTTPS.
func NewAuthHandler(accounts *service.AuthService, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, secureCookie: secureCookie, logger: logger}
}

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

type authResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token,omitempty"`
	// ConfirmationRequired is set when Supabase emailed a confirmation link
	// instead of starting a session.
	ConfirmationRequired bool `json:"confirmationRequired,omitempty"`
}

// HandleSignUp creates an account.
//
// HTTP: POST /auth/signup
// REQUEST BODY: {"username": "ada", "email": "ada@example.com", "password": "..."}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.accounts.SignUp(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.Token != "" {
		h.setTokenCookie(w, result.Token)
	}
	writeJSON(w, http.StatusCreated, authResponse{
		User:                 result.User,
		Token:                result.Token,
		ConfirmationRequired: result.Token == "",
	})
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"email": "ada@example.com", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{User: result.User, Token: result.Token})
}

// HandleLogout clears the token cookie. Supabase sessions expire on their own.
//
// HTTP: POST /auth/logout → 204 No Content
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword updates the caller's password.
//
// HTTP: PUT /auth/password (requires auth)
// REQUEST BODY: {"password": "new password"}
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), auth.TokenFromRequest(r), req.Password); err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	h.logger.Info("password changed", slog.String("userID", userID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the currently logged-in user's profile.
//
// HTTP: GET /api/me (requires auth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.Me(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// setTokenCookie stores the access token in an HttpOnly cookie so the browser
// sends it automatically; JavaScript clients may use the JSON token instead.
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   3600, // Supabase access tokens live one hour by default
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
