// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ashureev/calmpath/internal/advisor"
	"github.com/ashureev/calmpath/internal/identity"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	SeedFile       string
	AuthMode       string
	AuthUserHeader string
	AllowedOrigins []string
	AI             AIConfig
}

// AIConfig controls the reaction advisor. The advisor is off unless APIKey is set.
type AIConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
}

// Enabled returns true if an API key is configured.
func (a AIConfig) Enabled() bool {
	return strings.TrimSpace(a.APIKey) != ""
}

// Load reads configuration from environment variables, then applies
// command-line overrides from args.
func Load(args []string) (*Config, error) {
	cfg := FromEnv()

	flagSet := pflag.NewFlagSet("calmpath", pflag.ContinueOnError)
	cfg.AddFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/calmpath.db"),
		SeedFile:       getEnv("SEED_FILE", ""),
		AuthUserHeader: getEnv("AUTH_USER_HEADER", identity.DefaultUserHeader),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		AI: AIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", advisor.DefaultBaseURL),
			Model:              getEnv("OPENAI_MODEL", advisor.DefaultModel),
			RequestTimeout:     getEnvDuration("AI_REQUEST_TIMEOUT", advisor.DefaultRequestTimeout),
			RateLimitPerMinute: getEnvInt("AI_RATE_LIMIT_PER_MINUTE", 10),
		},
	}

	defaultMode := identity.ModeHeader
	if cfg.IsDevelopment() {
		defaultMode = identity.ModeAnonymous
	}
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(getEnv("AUTH_MODE", string(defaultMode))))

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOrigins(cfg.FrontendURL)
	}
	return cfg
}

// AddFlags registers --port, --db-path, --seed-file and --auth-mode. The
// current field values, already read from the environment, are the defaults.
func (c *Config) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Port, "port", c.Port, "HTTP listen port")
	flagSet.StringVar(&c.DBPath, "db-path", c.DBPath, "path to the SQLite database file")
	flagSet.StringVar(&c.SeedFile, "seed-file", c.SeedFile, "YAML guide catalog used when the database is empty (default: built-in guides)")
	flagSet.StringVar(&c.AuthMode, "auth-mode", c.AuthMode, "caller identification: header or anonymous")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch identity.Mode(c.AuthMode) {
	case identity.ModeHeader:
		if strings.TrimSpace(c.AuthUserHeader) == "" {
			return fmt.Errorf("AUTH_USER_HEADER cannot be empty in header auth mode")
		}
	case identity.ModeAnonymous:
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", identity.ModeHeader, identity.ModeAnonymous, c.AuthMode)
	}
	if c.AI.Enabled() {
		if c.AI.RequestTimeout <= 0 {
			return fmt.Errorf("AI_REQUEST_TIMEOUT must be > 0")
		}
		if c.AI.RateLimitPerMinute <= 0 {
			return fmt.Errorf("AI_RATE_LIMIT_PER_MINUTE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultOrigins(frontendURL string) []string {
	if frontendURL != "" {
		return []string{strings.TrimRight(frontendURL, "/")}
	}
	return []string{"http://localhost:5173", "http://localhost:8080"}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
