// Package config loads the server configuration from the environment.
//
// Values come from process environment variables; a .env file in the working
// directory (or its parent) is applied first so local development needs no
// exports. Every field has a default except the Supabase and LLM credentials.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

type Config struct {
	// Server
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	DBPath          string        `env:"DB_PATH" envDefault:"data/jamflow.db"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"false"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"` // covers the streamed reply
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Supabase
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	JWTSecret       string `env:"SUPABASE_JWT_SECRET"`
	JWKSURL         string `env:"SUPABASE_JWKS_URL"`
	JWTAudience     string `env:"JWT_AUDIENCE" envDefault:"authenticated"`
	JWTIssuer       string `env:"JWT_ISSUER"`

	// LLM
	LLMProvider      string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxOutputTokens  int           `env:"MAX_OUTPUT_TOKENS" envDefault:"4000"`
	Temperature      float64       `env:"TEMPERATURE" envDefault:"0.7"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	GeminiModel      string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiBaseURL    string        `env:"GEMINI_BASE_URL"`
	OpenRouterAPIKey string        `env:"OPENROUTER_API_KEY"`
	OpenRouterModel  string        `env:"OPENROUTER_MODEL" envDefault:"google/gemini-2.5-flash"`
	OpenRouterURL    string        `env:"OPENROUTER_BASE_URL"`
	OpenRouterSite   string        `env:"OPENROUTER_SITE_URL"`

	// Prompting
	KnowledgeBasePath  string        `env:"KNOWLEDGE_BASE_PATH"` // empty: embedded default
	KnowledgeCacheSize int           `env:"KNOWLEDGE_CACHE_SIZE" envDefault:"256"`
	StreamInterval     time.Duration `env:"STREAM_INTERVAL" envDefault:"10ms"`
}

// Load reads .env files, parses the environment and validates the result.
func Load() (*Config, error) {
	loadEnvFiles(".env", "../.env")
	return Parse()
}

// Parse reads the environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles applies the files that exist. Real environment variables win.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.SupabaseURL), "/")
	if c.JWKSURL == "" && c.JWTSecret == "" && c.SupabaseURL != "" {
		c.JWKSURL = c.SupabaseURL + "/auth/v1/.well-known/jwks.json"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if c.JWTSecret == "" && c.JWKSURL == "" {
		return errors.New("config: SUPABASE_JWT_SECRET, SUPABASE_JWKS_URL or SUPABASE_URL is required to verify tokens")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("config: SUPABASE_JWT_SECRET must be at least 16 characters")
	}
	switch c.LLMProvider {
	case ProviderGemini, ProviderOpenRouter:
	default:
		return fmt.Errorf("config: LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenRouter, c.LLMProvider)
	}
	if c.LLMTimeout <= 0 {
		return errors.New("config: LLM_TIMEOUT must be positive")
	}
	if c.StreamInterval < 0 {
		return errors.New("config: STREAM_INTERVAL must not be negative")
	}
	return nil
}

// Level returns the slog level named by LOG_LEVEL.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	return lvl, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SupabaseEnabled reports whether signup and login can reach Supabase.
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// LLMAPIKey returns the key of the selected provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == ProviderOpenRouter {
		return c.OpenRouterAPIKey
	}
	return c.GeminiAPIKey
}
