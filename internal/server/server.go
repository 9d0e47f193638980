// Package server is the composition root of the Jamflow API.
//
// New builds every dependency from the configuration and wires it to a chi
// router:
//
//	config → sqlite.DB ─┬→ ChatService → ChatHandler
//	                    └→ AuthService → AuthHandler, auth middleware
//	knowledge.Base → prompt.Builder ─┐
//	llm provider → llm.Fallback ─────┴→ AssistantService → GenerateHandler
//
// Start runs the HTTP server until SIGINT/SIGTERM and then shuts it down
// gracefully, closing the database and stopping the JWKS refresher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/config"
	"github.com/sakif/jamflow/internal/handler"
	"github.com/sakif/jamflow/internal/knowledge"
	"github.com/sakif/jamflow/internal/llm"
	"github.com/sakif/jamflow/internal/llm/gemini"
	"github.com/sakif/jamflow/internal/llm/openrouter"
	"github.com/sakif/jamflow/internal/middleware"
	"github.com/sakif/jamflow/internal/prompt"
	sqliteRepo "github.com/sakif/jamflow/internal/repository/sqlite"
	"github.com/sakif/jamflow/internal/service"
	"github.com/sakif/jamflow/internal/stream"
)

// supabaseTimeout bounds every call to the Supabase auth API.
const supabaseTimeout = 15 * time.Second

// Server owns the router and the resources that must be released on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
}

// New opens the database, builds the services and registers the routes.
// ctx bounds the initial JWKS fetch and the lifetime of its background refresh.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := newTokenService(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}
	if err := s.setupRoutes(); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func newTokenService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*auth.TokenService, error) {
	opts := []auth.Option{auth.WithAudience(cfg.JWTAudience)}
	if cfg.JWTIssuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWKSURL != "" {
		jwks, err := auth.NewJWKS(ctx, cfg.JWKSURL, logger)
		if err != nil {
			if cfg.JWTSecret == "" {
				return nil, err
			}
			// The secret still verifies HS256 tokens.
			logger.Warn("JWKS unavailable, verifying with the JWT secret only", slog.String("error", err.Error()))
		} else {
			opts = append(opts, auth.WithJWKS(jwks))
		}
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	return tokens, nil
}

// newProvider returns the configured model, or nil when it has no API key. A nil
// provider makes every reply the fallback text.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.LLMAPIKey() == "" {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case config.ProviderOpenRouter:
		return openrouter.New(openrouter.Config{
			APIKey:      cfg.OpenRouterAPIKey,
			Model:       cfg.OpenRouterModel,
			BaseURL:     cfg.OpenRouterURL,
			MaxTokens:   cfg.MaxOutputTokens,
			Temperature: float32(cfg.Temperature),
			Referer:     cfg.OpenRouterSite,
			Timeout:     cfg.LLMTimeout,
		})
	default:
		return gemini.New(gemini.Config{
			APIKey:          cfg.GeminiAPIKey,
			Model:           cfg.GeminiModel,
			BaseURL:         cfg.GeminiBaseURL,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Temperature:     cfg.Temperature,
			Timeout:         cfg.LLMTimeout,
		})
	}
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /healthz        liveness + database ping
//	GET    /metrics        Prometheus
//	POST   /auth/signup    create account
//	POST   /auth/login     password login
//	POST   /auth/logout    clear cookie
//	PUT    /auth/password  change password        (auth)
//	GET    /api/me         current user           (auth)
//	POST   /api/generate   streamed reply         (optional auth)
//	POST   /chat           create chat            (auth)
//	GET    /chats          list own chats         (auth)
//	GET    /chat/{id}      fetch chat             (optional auth)
//	PUT    /chat/{id}      edit a prompt          (auth)
//	DELETE /chat/{id}      delete chat            (auth)
//	POST   /chat/{id}      append a turn          (auth)
//	POST   /share/{id}     make public            (auth)
//	POST   /unshare/{id}   make private           (auth)
//
// MIDDLEWARE ORDER: request id, real ip, logging, metrics, panic recovery, then
// CORS so preflight answers are logged and counted too.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		ExposedHeaders: handler.ExposedHeaders,
	}))

	var idp service.IdentityProvider
	if s.config.SupabaseEnabled() {
		idp = auth.NewSupabaseClient(s.config.SupabaseURL, s.config.SupabaseAnonKey, supabaseTimeout)
	} else {
		s.logger.Warn("SUPABASE_URL or SUPABASE_ANON_KEY not set: signup and login are disabled")
	}

	kb, err := knowledge.New(s.config.KnowledgeBasePath, s.config.KnowledgeCacheSize, s.logger)
	if err != nil {
		return err
	}
	provider, err := newProvider(s.config)
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	if provider == nil {
		s.logger.Warn("no LLM API key set: every reply is the fallback text",
			slog.String("provider", s.config.LLMProvider))
	}

	accounts := service.NewAuthService(s.db, idp, s.logger)
	chats := service.NewChatService(s.db, s.logger)
	assistant := service.NewAssistantService(
		prompt.NewBuilder(kb, s.logger),
		llm.NewFallback(provider, s.config.LLMTimeout, s.logger),
		s.logger,
	)

	healthH := handler.NewHealthHandler(s.db, s.logger)
	authH := handler.NewAuthHandler(accounts, s.config.CookieSecure, s.logger)
	chatH := handler.NewChatHandler(chats, s.logger)
	genH := handler.NewGenerateHandler(assistant, stream.NewRelay(s.config.StreamInterval), s.logger)

	required := auth.RequireAuth(s.tokens, accounts, s.logger)
	optional := auth.OptionalAuth(s.tokens, accounts, s.logger)

	s.router.Get("/healthz", healthH.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authH.HandleSignUp)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
		r.With(required).Put("/password", authH.HandleChangePassword)
	})

	s.router.With(required).Get("/api/me", authH.HandleMe)
	s.router.With(optional).Post("/api/generate", genH.HandleGenerate)
	s.router.With(optional).Get("/chat/{id}", chatH.HandleGet)

	s.router.Group(func(r chi.Router) {
		r.Use(required)
		r.Post("/chat", chatH.HandleCreate)
		r.Get("/chats", chatH.HandleList)
		r.Put("/chat/{id}", chatH.HandleEdit)
		r.Delete("/chat/{id}", chatH.HandleDelete)
		r.Post("/chat/{id}", chatH.HandleAppend)
		r.Post("/share/{id}", chatH.HandleShare)
		r.Post("/unshare/{id}", chatH.HandleUnshare)
	})

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) close() {
	s.tokens.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Error("closing database", slog.String("error", err.Error()))
	}
}

// Start serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests for up to ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("llmProvider", s.config.LLMProvider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
