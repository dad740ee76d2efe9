package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envProvider, envGeminiKey, envGeminiKeyAlt, envOpenAIKey, envOpenAIKeyAlt, envOpenAIURL, envServerURL, envStoragePath} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "coach.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfigWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv(envProvider, "OpenAI")
	t.Setenv(envOpenAIKeyAlt, "sk-abc123def456ghi789jkl012mno345pqr")
	t.Setenv(envOpenAIURL, "https://example.com/v1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Provider != ProviderOpenAI {
		t.Fatalf("expected provider override, got %q", cfg.Provider)
	}
	if cfg.OpenAI.URL != "https://example.com/v1" {
		t.Fatalf("expected URL override, got %q", cfg.OpenAI.URL)
	}
	if cfg.OpenAI.APIKey != "sk-abc123def456ghi789jkl012mno345pqr" {
		t.Fatalf("expected API key override, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Coach.HistoryWindow != 20 {
		t.Fatalf("expected default history window 20, got %d", cfg.Coach.HistoryWindow)
	}
	if cfg.Coach.ConversationID != "coach_single_conv_v1" {
		t.Fatalf("expected default conversation key, got %q", cfg.Coach.ConversationID)
	}
	if err := cfg.ValidateProvider(); err != nil {
		t.Fatalf("ValidateProvider returned error: %v", err)
	}
}

func TestLoad_PrefersCoachScopedKey(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv(envGeminiKeyAlt, "generic")
	t.Setenv(envGeminiKey, "scoped")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gemini.APIKey != "scoped" {
		t.Fatalf("expected scoped key to win, got %q", cfg.Gemini.APIKey)
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_GEMINI_KEY", "from-env")

	configPath := writeConfig(t, `provider: gemini
gemini:
  api_key: ${TEST_GEMINI_KEY}
  model: gemini-test
model:
  temperature: 0.5
  timeout: 15s
coach:
  history_window: 10
  profile: wide
server:
  port: 9999
logging:
  level: debug
  format: console
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Gemini.APIKey != "from-env" {
		t.Errorf("expected expanded API key, got %q", cfg.Gemini.APIKey)
	}
	if cfg.Gemini.Model != "gemini-test" {
		t.Errorf("expected model gemini-test, got %q", cfg.Gemini.Model)
	}
	if cfg.Model.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.Model.Temperature)
	}
	if cfg.Model.Timeout != 15*time.Second {
		t.Errorf("expected timeout 15s, got %s", cfg.Model.Timeout)
	}
	if cfg.Coach.HistoryWindow != 10 {
		t.Errorf("expected history window 10, got %d", cfg.Coach.HistoryWindow)
	}
	if cfg.Coach.Profile != "wide" {
		t.Errorf("expected profile wide, got %q", cfg.Coach.Profile)
	}
	if cfg.Server.Addr() != "localhost:9999" {
		t.Errorf("expected addr localhost:9999, got %q", cfg.Server.Addr())
	}
	if cfg.Coach.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("expected default system prompt to survive partial file")
	}
}

func TestLoad_InvalidTemperature(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "provider: placeholder\nmodel:\n  temperature: 5\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid temperature, got none")
	}
	if !strings.Contains(err.Error(), "must be between 0.0 and 2.0, got 5.00") {
		t.Fatalf("expected temperature range in error, got %v", err)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "provider: claude\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for unknown provider, got none")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateProvider_MissingAPIKey(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "provider: gemini\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	err = cfg.ValidateProvider()
	if err == nil {
		t.Fatal("expected error for missing API key, got none")
	}
	var cfgErr *coachErrors.ConfigError
	if !coachErrors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestValidateProvider_UnexpandedKey(t *testing.T) {
	cfg := Default()
	cfg.Provider = ProviderOpenAI
	cfg.OpenAI.APIKey = "${NOT_SET}"

	if err := cfg.ValidateProvider(); err == nil {
		t.Fatal("expected error for unexpanded key")
	}
}

func TestValidateProvider_PlaceholderNeedsNoKey(t *testing.T) {
	cfg := Default()
	cfg.Provider = ProviderPlaceholder

	if err := cfg.ValidateProvider(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
