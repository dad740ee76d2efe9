package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/validation"
)

const (
	envProvider     = "COACH_PROVIDER"
	envGeminiKey    = "COACH_GEMINI_API_KEY"
	envGeminiKeyAlt = "GEMINI_API_KEY"
	envOpenAIKey    = "COACH_OPENAI_API_KEY"
	envOpenAIKeyAlt = "OPENAI_API_KEY"
	envOpenAIURL    = "COACH_OPENAI_URL"
	envServerURL    = "COACH_SERVER_URL"
	envStoragePath  = "COACH_STORAGE_PATH"

	defaultConfigFile = "coach.yaml"
)

// Provider names accepted by the provider flag.
const (
	ProviderGemini      = "gemini"
	ProviderOpenAI      = "openai"
	ProviderPlaceholder = "placeholder"
)

// DefaultSystemPrompt frames the model as a coach. It asks one question at a
// time and answers in the user's language.
const DefaultSystemPrompt = `You are a warm, concise career and life coach.
Help the user untangle what is bothering them. Reflect back what you heard,
ask at most one or two focused questions per reply, and suggest one small,
concrete next step when the user seems ready. Never diagnose or give medical,
legal or financial advice. Always reply in the same language the user writes in.`

// Config captures runtime configuration for coach.
type Config struct {
	Provider string        `yaml:"provider"`
	Gemini   GeminiConfig  `yaml:"gemini"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Model    ModelConfig   `yaml:"model"`
	Coach    CoachConfig   `yaml:"coach"`
	Server   ServerConfig  `yaml:"server"`
	Logging  LoggingConfig `yaml:"logging"`
	UI       UIConfig      `yaml:"ui"`
	Storage  StorageConfig `yaml:"storage"`
}

// GeminiConfig holds settings for the Gemini API.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// OpenAIConfig holds settings for an OpenAI-compatible API.
type OpenAIConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ModelConfig controls generation behaviour shared by every provider.
type ModelConfig struct {
	Temperature float64       `yaml:"temperature"`
	Stream      bool          `yaml:"stream"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
}

// CoachConfig shapes the conversation itself.
type CoachConfig struct {
	SystemPrompt   string `yaml:"system_prompt"`
	HistoryWindow  int    `yaml:"history_window"`
	ConversationID string `yaml:"conversation_id"`
	Profile        string `yaml:"profile"`
	CacheSize      int    `yaml:"cache_size"`
}

// ServerConfig configures `coach serve` and the address clients dial.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit_per_minute"`
	BodyLimit      string        `yaml:"body_limit"`
	ErrorDetail    string        `yaml:"error_detail"`
}

// LoggingConfig encapsulates logging preferences.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// UIConfig defines terminal rendering preferences.
type UIConfig struct {
	ShowTimestamps bool `yaml:"show_timestamps"`
	Markdown       bool `yaml:"markdown"`
	WideThreshold  int  `yaml:"wide_threshold"`
}

// StorageConfig defines persistence options.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from the provided path, falling back to defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := loadFile(defaultConfigFile, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	cfg.Gemini.APIKey = os.ExpandEnv(cfg.Gemini.APIKey)
	cfg.Gemini.BaseURL = os.ExpandEnv(cfg.Gemini.BaseURL)
	cfg.OpenAI.APIKey = os.ExpandEnv(cfg.OpenAI.APIKey)
	cfg.OpenAI.URL = os.ExpandEnv(cfg.OpenAI.URL)
	cfg.Storage.Path = os.ExpandEnv(cfg.Storage.Path)
	cfg.Logging.File = os.ExpandEnv(cfg.Logging.File)

	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := firstEnv(envProvider); v != "" {
		cfg.Provider = strings.ToLower(v)
	}
	if v := firstEnv(envGeminiKey, envGeminiKeyAlt); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := firstEnv(envOpenAIKey, envOpenAIKeyAlt); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := firstEnv(envOpenAIURL); v != "" {
		cfg.OpenAI.URL = v
	}
	if v := firstEnv(envServerURL); v != "" {
		cfg.Server.URL = v
	}
	if v := firstEnv(envStoragePath); v != "" {
		cfg.Storage.Path = v
	}
}

func (c *Config) validate() error {
	var validationErrors []string

	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderPlaceholder:
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("Provider (provider) must be one of gemini, openai, placeholder, got %q", c.Provider))
	}

	if c.Provider == ProviderOpenAI {
		if msg := validateHTTPURL("OpenAI URL (openai.url)", c.OpenAI.URL); msg != "" {
			validationErrors = append(validationErrors, msg)
		}
	}
	if strings.TrimSpace(c.Gemini.BaseURL) != "" {
		if msg := validateHTTPURL("Gemini base URL (gemini.base_url)", c.Gemini.BaseURL); msg != "" {
			validationErrors = append(validationErrors, msg)
		}
	}

	var tempErr *coachErrors.ValidationError
	if err := validation.ValidateTemperature(c.Model.Temperature); coachErrors.As(err, &tempErr) {
		validationErrors = append(validationErrors, "Model temperature (model.temperature) "+tempErr.Message())
	}
	if c.Model.Timeout <= 0 {
		validationErrors = append(validationErrors, "Model timeout (model.timeout) must be positive")
	}
	if c.Model.MaxRetries < 0 {
		validationErrors = append(validationErrors, "Model retries (model.max_retries) cannot be negative")
	}
	if c.Model.RateLimit <= 0 || c.Model.Burst <= 0 {
		validationErrors = append(validationErrors, "Model rate limit (model.rate_limit, model.burst) must be positive")
	}

	if c.Coach.HistoryWindow <= 0 || c.Coach.HistoryWindow > 200 {
		validationErrors = append(validationErrors, fmt.Sprintf("History window (coach.history_window) must be between 1 and 200, got %d", c.Coach.HistoryWindow))
	}
	if strings.TrimSpace(c.Coach.ConversationID) == "" {
		validationErrors = append(validationErrors, "Conversation key (coach.conversation_id) cannot be empty")
	}
	switch strings.ToLower(c.Coach.Profile) {
	case "compact", "wide":
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("Insights profile (coach.profile) must be compact or wide, got %q", c.Coach.Profile))
	}
	if c.Coach.CacheSize <= 0 {
		validationErrors = append(validationErrors, "Cache size (coach.cache_size) must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, fmt.Sprintf("Server port (server.port) must be between 1 and 65535, got %d", c.Server.Port))
	}
	if strings.TrimSpace(c.Server.URL) != "" {
		if msg := validateHTTPURL("Server URL (server.url)", c.Server.URL); msg != "" {
			validationErrors = append(validationErrors, msg)
		}
	}
	if c.Server.RateLimit < 0 {
		validationErrors = append(validationErrors, "Server rate limit (server.rate_limit_per_minute) cannot be negative")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if strings.TrimSpace(c.Logging.Level) == "" {
		validationErrors = append(validationErrors, "Logging level (logging.level) cannot be empty")
	} else {
		isValidLevel := false
		for _, validLevel := range validLevels {
			if strings.EqualFold(c.Logging.Level, validLevel) {
				isValidLevel = true
				break
			}
		}
		if !isValidLevel {
			validationErrors = append(validationErrors, fmt.Sprintf("Logging level (logging.level) must be one of: %v, got %s", validLevels, c.Logging.Level))
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		validationErrors = append(validationErrors, fmt.Sprintf("Logging format (logging.format) must be json or console, got %q", c.Logging.Format))
	}

	if strings.TrimSpace(c.Storage.Path) != "" {
		if info, statErr := os.Stat(c.Storage.Path); statErr == nil && info.IsDir() {
			validationErrors = append(validationErrors, fmt.Sprintf("Storage path (%s) must be a database file, not a directory", c.Storage.Path))
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n\t• %s", strings.Join(validationErrors, "\n\t• "))
	}

	return nil
}

// ValidateProvider checks the credentials of the selected provider. Commands
// that only talk to a remote server never call it.
func (c *Config) ValidateProvider() error {
	switch c.Provider {
	case ProviderGemini:
		return validateKey("gemini.api_key", c.Gemini.APIKey, envGeminiKey)
	case ProviderOpenAI:
		return validateKey("openai.api_key", c.OpenAI.APIKey, envOpenAIKey)
	case ProviderPlaceholder:
		return nil
	default:
		return coachErrors.NewConfigError("provider", fmt.Sprintf("unknown provider %q", c.Provider), nil)
	}
}

func validateKey(field, key, env string) error {
	if strings.Contains(key, "${") {
		return coachErrors.NewConfigError(field, fmt.Sprintf("contains an unexpanded environment variable, set %s", env), nil)
	}
	if strings.TrimSpace(key) == "" {
		return coachErrors.NewConfigError(field, fmt.Sprintf("must be set or provided via %s", env), nil)
	}
	return nil
}

func validateHTTPURL(label, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return label + " must be configured"
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return label + " must start with http:// or https://"
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Sprintf("%s is invalid: %v", label, err)
	}
	return ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderGemini,
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		OpenAI: OpenAIConfig{
			URL:   "https://api.openai.com/v1",
			Model: "gpt-4o-mini",
		},
		Model: ModelConfig{
			Temperature: 0.7,
			Stream:      false,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
			RateLimit:   2,
			Burst:       4,
		},
		Coach: CoachConfig{
			SystemPrompt:   DefaultSystemPrompt,
			HistoryWindow:  20,
			ConversationID: "coach_single_conv_v1",
			Profile:        "compact",
			CacheSize:      64,
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8787,
			RequestTimeout: 90 * time.Second,
			RateLimit:      60,
			BodyLimit:      "256K",
			ErrorDetail:    "production",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		UI: UIConfig{
			ShowTimestamps: true,
			Markdown:       true,
			WideThreshold:  110,
		},
		Storage: StorageConfig{
			Path: "",
		},
	}
}
