package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calmpath/internal/advisor"
	"github.com/ashureev/calmpath/internal/identity"
)

// clearEnv unsets every variable Load reads so the host environment does not
// leak in. t.Setenv registers the restore; os.Unsetenv makes the key absent.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DB_PATH", "FRONTEND_URL", "AUTH_MODE", "AUTH_USER_HEADER", "CORS_ALLOWED_ORIGINS",
		"SEED_FILE", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "AI_REQUEST_TIMEOUT",
		"AI_RATE_LIMIT_PER_MINUTE",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/calmpath.db", cfg.DBPath)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, string(identity.ModeAnonymous), cfg.AuthMode)
	assert.Equal(t, identity.DefaultUserHeader, cfg.AuthUserHeader)
	assert.Equal(t, advisor.DefaultBaseURL, cfg.AI.BaseURL)
	assert.Equal(t, advisor.DefaultModel, cfg.AI.Model)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.AllowedOrigins)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, advisor.DefaultRequestTimeout, cfg.AI.RequestTimeout)
	assert.Equal(t, 10, cfg.AI.RateLimitPerMinute)
}

func TestLoadProductionFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRONTEND_URL", "https://calmpath.example/")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_REQUEST_TIMEOUT", "5s")
	t.Setenv("AI_RATE_LIMIT_PER_MINUTE", "3")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, string(identity.ModeHeader), cfg.AuthMode)
	assert.Equal(t, []string{"https://calmpath.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, 5*time.Second, cfg.AI.RequestTimeout)
	assert.Equal(t, 3, cfg.AI.RateLimitPerMinute)
}

func TestFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load([]string{"--port", "9100", "--db-path=/tmp/x.db", "--auth-mode", "header", "--seed-file", "g.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, string(identity.ModeHeader), cfg.AuthMode)
	assert.Equal(t, "g.yaml", cfg.SeedFile)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad port", map[string]string{"PORT": "eighty"}, nil},
		{"empty db path", nil, []string{"--db-path="}},
		{"unknown auth mode", map[string]string{"AUTH_MODE": "oauth"}, nil},
		{"empty user header", map[string]string{"AUTH_MODE": "header", "AUTH_USER_HEADER": " "}, nil},
		{"ai without limit", map[string]string{"OPENAI_API_KEY": "k", "AI_RATE_LIMIT_PER_MINUTE": "0"}, nil},
		{"unknown flag", nil, []string{"--verbose"}},
		{"stray argument", nil, []string{"serve"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}
