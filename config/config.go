package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken   string
	DiscordWebhook string

	LLMProvider    string // llamacpp, anthropic, openai, ollama
	AIServerURL    string // llama.cpp /completion endpoint
	AnthropicKey   string // API key (X-Api-Key header)
	AnthropicToken string // OAuth token (Authorization: Bearer header)
	OpenAIKey      string
	LLMModel       string
	OllamaBaseURL  string

	DataDir           string
	Timezone          string
	CheckInTimeout    time.Duration
	ClassifierTimeout time.Duration
	LogLevel          string
}

const (
	defaultCheckInTimeout    = 15 * time.Minute
	defaultClassifierTimeout = 30 * time.Second
)

func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error if no .env
	// installed service reads its settings from ~/.shadow/config
	_ = godotenv.Load(ConfigFile())

	cfg := &Config{
		DiscordToken:   os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK_URL"),
		LLMProvider:    envOr("LLM_PROVIDER", "llamacpp"),
		AIServerURL:    envOr("AI_SERVER_URL", "http://ai-server:8080/completion"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicToken: os.Getenv("ANTHROPIC_AUTH_TOKEN"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		OllamaBaseURL:  envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		DataDir:        envOr("DATA_DIR", "data"),
		Timezone:       envOr("TIMEZONE", "America/New_York"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CheckInTimeout, err = durationOr("CHECKIN_TIMEOUT", defaultCheckInTimeout); err != nil {
		return nil, err
	}
	if cfg.ClassifierTimeout, err = durationOr("CLASSIFIER_TIMEOUT", defaultClassifierTimeout); err != nil {
		return nil, err
	}
	// a classification must finish well inside the window the user has to reply
	if cfg.ClassifierTimeout >= cfg.CheckInTimeout {
		cfg.ClassifierTimeout = cfg.CheckInTimeout / 2
	}
	return cfg, nil
}

// ConfigDir holds the installed service's settings.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shadow"
	}
	return filepath.Join(home, ".shadow")
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config")
}

// DatabasePath is where the entry log lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "shadow_tracker.db")
}

// PrioritiesPath is the optional priorities override file.
func (c *Config) PrioritiesPath() string {
	return filepath.Join(c.DataDir, "priorities.yaml")
}

// LLMBaseURL picks the endpoint setting that applies to the configured provider.
func (c *Config) LLMBaseURL() string {
	switch c.LLMProvider {
	case "", "llamacpp":
		return c.AIServerURL
	case "ollama":
		return c.OllamaBaseURL
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}
