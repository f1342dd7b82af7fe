package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultFrontendOrigin    = "https://alibi.app"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o-mini"
	defaultCredentialPrefix  = "sk-"
	defaultFreeTierLimit     = 5
	minEncryptionSecretBytes = 16
)

type Config struct {
	Port                       string
	Environment                string
	FrontendOrigin             string
	AllowedOrigins             []string
	AuthRequired               bool
	GoogleClientID             string
	InsecureSkipGoogleVerify   bool
	TursoDatabaseURL           string
	TursoAuthToken             string
	OpenRouterAPIKey           string
	OpenRouterBaseURL          string
	OpenRouterModel            string
	CredentialEncryptionSecret string
	CredentialPrefix           string
	VerifyUserCredentials      bool
	FreeTierCallLimit          int
	UpstreamMinInterval        time.Duration
	ProTierEmails              map[string]struct{}
	LogLevel                   string
	LogFormat                  string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                       envOrDefault("PORT", defaultPort),
		Environment:                envOrDefault("APP_ENV", "development"),
		FrontendOrigin:             envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		AuthRequired:               boolOrDefault("AUTH_REQUIRED", true),
		GoogleClientID:             strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		InsecureSkipGoogleVerify:   boolOrDefault("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", false),
		TursoDatabaseURL:           strings.TrimSpace(os.Getenv("TURSO_DATABASE_URL")),
		TursoAuthToken:             strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),
		OpenRouterAPIKey:           strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:          envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterModel:            envOrDefault("OPENROUTER_MODEL", defaultOpenRouterModel),
		CredentialEncryptionSecret: os.Getenv("CREDENTIAL_ENCRYPTION_SECRET"),
		CredentialPrefix:           envOrDefault("CREDENTIAL_PREFIX", defaultCredentialPrefix),
		VerifyUserCredentials:      boolOrDefault("VERIFY_USER_CREDENTIALS", true),
		FreeTierCallLimit:          intOrDefault("FREE_TIER_CALL_LIMIT", defaultFreeTierLimit),
		UpstreamMinInterval:        time.Duration(intOrDefault("UPSTREAM_MIN_INTERVAL_MS", 0)) * time.Millisecond,
		ProTierEmails:              parseEmailSet(os.Getenv("PRO_TIER_EMAILS")),
		LogLevel:                   envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                  envOrDefault("LOG_FORMAT", "text"),
	}

	if cfg.Environment == "production" {
		cfg.LogFormat = "json"
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.TursoDatabaseURL == "" {
		return Config{}, errors.New("TURSO_DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.TursoDatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.AuthRequired && !cfg.InsecureSkipGoogleVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_GOOGLE_VERIFY=true")
	}
	if cfg.OpenRouterAPIKey == "" {
		return Config{}, errors.New("OPENROUTER_API_KEY is required for the shared free tier")
	}
	if len(cfg.CredentialEncryptionSecret) < minEncryptionSecretBytes {
		return Config{}, fmt.Errorf("CREDENTIAL_ENCRYPTION_SECRET must be at least %d bytes", minEncryptionSecretBytes)
	}
	if cfg.FreeTierCallLimit < 0 {
		return Config{}, errors.New("FREE_TIER_CALL_LIMIT must be >= 0")
	}
	if cfg.UpstreamMinInterval < 0 {
		return Config{}, errors.New("UPSTREAM_MIN_INTERVAL_MS must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseEmailSet(raw string) map[string]struct{} {
	emails := parseList(raw)
	out := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		out[strings.ToLower(email)] = struct{}{}
	}
	return out
}
