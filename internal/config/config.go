// Package config loads the relay's configuration: viper handles defaults,
// an optional YAML file, and CHATRELAY_* environment overrides; provider
// credentials can additionally come from a secrets.toml next to the config
// file, matching the original template.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// ServerConfig defines the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ChatConfig defines the per-session pipeline knobs.
type ChatConfig struct {
	BucketCapacity  float64       `mapstructure:"bucket_capacity"`
	RefillRate      float64       `mapstructure:"refill_rate"`      // tokens per second
	MessageCost     float64       `mapstructure:"message_cost"`     // tokens per message
	QueueCapacity   int           `mapstructure:"queue_capacity"`   // pending messages per session
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"` // per streaming call
	DefaultModel    string        `mapstructure:"default_model"`
	SessionIdleTTL  time.Duration `mapstructure:"session_idle_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	Models          []string      `mapstructure:"models"` // catalog override
}

// DatabaseConfig defines the persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ProvidersConfig carries upstream credentials.
type ProvidersConfig struct {
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	SiteURL          string `mapstructure:"site_url"`
	SiteName         string `mapstructure:"site_name"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Debug     bool            `mapstructure:"debug"`
}

// secrets mirrors the original template's secrets.toml keys.
type secrets struct {
	OpenRouterSecret string `toml:"OPENROUTER_SECRET"`
	OpenAISecret     string `toml:"OPENAI_SECRET"`
	AnthropicSecret  string `toml:"ANTHROPIC_SECRET"`
}

// Load reads configuration from the optional file at path, applying defaults
// and environment overrides. A missing file is not an error; defaults and
// the environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := loadSecrets(&cfg, secretsPath(path)); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("chat.bucket_capacity", 10.0)
	v.SetDefault("chat.refill_rate", 0.5)
	v.SetDefault("chat.message_cost", 1.0)
	v.SetDefault("chat.queue_capacity", 8)
	v.SetDefault("chat.upstream_timeout", 2*time.Minute)
	v.SetDefault("chat.default_model", "google/gemini-flash-1.5")
	v.SetDefault("chat.session_idle_ttl", 30*time.Minute)
	v.SetDefault("chat.sweep_interval", time.Minute)
	v.SetDefault("database.path", "chat_history.db")
	v.SetDefault("debug", false)
	// Registered so CHATRELAY_PROVIDERS_* environment overrides are seen
	// by Unmarshal even without a config file.
	v.SetDefault("providers.openrouter_api_key", "")
	v.SetDefault("providers.openai_api_key", "")
	v.SetDefault("providers.anthropic_api_key", "")
	v.SetDefault("providers.site_url", "")
	v.SetDefault("providers.site_name", "")
}

// secretsPath resolves secrets.toml relative to the config file, or the
// working directory when no config file was given.
func secretsPath(configPath string) string {
	if configPath == "" {
		return "secrets.toml"
	}
	return filepath.Join(filepath.Dir(configPath), "secrets.toml")
}

// loadSecrets merges secrets.toml into the provider credentials. The file is
// optional; explicit configuration and environment take precedence.
func loadSecrets(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var s secrets
	if err := toml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}

	if cfg.Providers.OpenRouterAPIKey == "" {
		cfg.Providers.OpenRouterAPIKey = s.OpenRouterSecret
	}
	if cfg.Providers.OpenAIAPIKey == "" {
		cfg.Providers.OpenAIAPIKey = s.OpenAISecret
	}
	if cfg.Providers.AnthropicAPIKey == "" {
		cfg.Providers.AnthropicAPIKey = s.AnthropicSecret
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Chat.BucketCapacity <= 0 {
		return fmt.Errorf("chat.bucket_capacity must be positive, got %v", cfg.Chat.BucketCapacity)
	}
	if cfg.Chat.RefillRate <= 0 {
		return fmt.Errorf("chat.refill_rate must be positive, got %v", cfg.Chat.RefillRate)
	}
	if cfg.Chat.MessageCost <= 0 || cfg.Chat.MessageCost > cfg.Chat.BucketCapacity {
		return fmt.Errorf("chat.message_cost must be in (0, bucket_capacity], got %v", cfg.Chat.MessageCost)
	}
	if cfg.Chat.QueueCapacity < 1 {
		return fmt.Errorf("chat.queue_capacity must be at least 1, got %d", cfg.Chat.QueueCapacity)
	}
	if cfg.Chat.UpstreamTimeout <= 0 {
		return fmt.Errorf("chat.upstream_timeout must be positive, got %v", cfg.Chat.UpstreamTimeout)
	}
	return nil
}
