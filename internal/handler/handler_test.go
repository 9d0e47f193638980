package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/handler"
	"github.com/sakif/jamflow/internal/llm"
	"github.com/sakif/jamflow/internal/prompt"
	"github.com/sakif/jamflow/internal/repository/sqlite"
	"github.com/sakif/jamflow/internal/service"
	"github.com/sakif/jamflow/internal/stream"
)

const (
	ownerSubject = "5f0c7b4e-2d0a-4c43-9b1c-8a3e5a0d9f11"
	otherSubject = "0b8f6f5c-9a57-4b0e-8f3b-2c8e4f1d7a22"
)

// fakeIdP stands in for Supabase.
type fakeIdP struct {
	session *auth.Session
	err     error
}

func (f *fakeIdP) SignUp(ctx context.Context, email, password, username string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := *f.session
	s.User.Email = email
	s.User.UserMetadata.Username = username
	return &s, nil
}

func (f *fakeIdP) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := *f.session
	s.User.Email = email
	return &s, nil
}

func (f *fakeIdP) UpdatePassword(ctx context.Context, accessToken, password string) error {
	return f.err
}

// fakeModel is an llm.Provider with a fixed answer.
type fakeModel struct {
	text string
	err  error
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(ctx context.Context, p string) (string, error) {
	return f.text, f.err
}

// testEnv wires real services on an in-memory database behind a chi router laid
// out like the server's.
type testEnv struct {
	router     http.Handler
	db         *sqlite.DB
	tokens     *auth.TokenService
	idp        *fakeIdP
	model      *fakeModel
	ownerToken string
	otherToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRelay(t, stream.NewRelay(0))
}

func newTestEnvWithRelay(t *testing.T, relay *stream.Relay) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	env := &testEnv{
		db:     db,
		tokens: tokens,
		idp:    &fakeIdP{session: &auth.Session{AccessToken: "supabase-token", User: auth.SupabaseUser{ID: ownerSubject}}},
		model:  &fakeModel{text: "Here you go:\n```javascript\nsetcpm(100)\nsound(\"bd sd\")\n```"},
	}

	accounts := service.NewAuthService(db, env.idp, logger)
	chats := service.NewChatService(db, logger)
	assistant := service.NewAssistantService(
		prompt.NewBuilder(nil, logger),
		llm.NewFallback(env.model, time.Second, logger),
		logger,
	)

	chatH := handler.NewChatHandler(chats, logger)
	authH := handler.NewAuthHandler(accounts, false, logger)
	genH := handler.NewGenerateHandler(assistant, relay, logger)
	healthH := handler.NewHealthHandler(db, logger)

	required := auth.RequireAuth(tokens, accounts, logger)
	optional := auth.OptionalAuth(tokens, accounts, logger)

	r := chi.NewRouter()
	r.Get("/healthz", healthH.HandleHealth)
	r.Post("/auth/signup", authH.HandleSignUp)
	r.Post("/auth/login", authH.HandleLogin)
	r.Post("/auth/logout", authH.HandleLogout)
	r.With(optional).Post("/api/generate", genH.HandleGenerate)
	r.With(optional).Get("/chat/{id}", chatH.HandleGet)
	r.Group(func(r chi.Router) {
		r.Use(required)
		r.Put("/auth/password", authH.HandleChangePassword)
		r.Get("/api/me", authH.HandleMe)
		r.Post("/chat", chatH.HandleCreate)
		r.Get("/chats", chatH.HandleList)
		r.Put("/chat/{id}", chatH.HandleEdit)
		r.Delete("/chat/{id}", chatH.HandleDelete)
		r.Post("/chat/{id}", chatH.HandleAppend)
		r.Post("/share/{id}", chatH.HandleShare)
		r.Post("/unshare/{id}", chatH.HandleUnshare)
	})
	env.router = r

	env.ownerToken = env.issue(t, auth.Identity{Subject: ownerSubject, Email: "owner@example.com", Username: "owner"})
	env.otherToken = env.issue(t, auth.Identity{Subject: otherSubject, Email: "other@example.com", Username: "other"})
	return env
}

func (e *testEnv) issue(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := e.tokens.Issue(id, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

// mustField returns the raw JSON of one top-level field of body.
func mustField(t *testing.T, body []byte, name string) json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	raw, ok := fields[name]
	require.True(t, ok, "field %q missing in %s", name, body)
	return raw
}
