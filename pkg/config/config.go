package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type BotConfig struct {
	NewDialogTimeoutSeconds int     `json:"new_dialog_timeout_seconds" env:"DOTCHAT_BOT_NEW_DIALOG_TIMEOUT_SECONDS"`
	ChatModesPath           string  `json:"chat_modes_path" env:"DOTCHAT_BOT_CHAT_MODES_PATH"`
	DefaultChatMode         string  `json:"default_chat_mode" env:"DOTCHAT_BOT_DEFAULT_CHAT_MODE"`
	PricePer1KTokens        float64 `json:"price_per_1k_tokens" env:"DOTCHAT_BOT_PRICE_PER_1K_TOKENS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"DOTCHAT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DOTCHAT_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey      string  `json:"api_key" env:"DOTCHAT_PROVIDERS_OPENAI_API_KEY"`
	APIBase     string  `json:"api_base" env:"DOTCHAT_PROVIDERS_OPENAI_API_BASE"`
	Proxy       string  `json:"proxy,omitempty" env:"DOTCHAT_PROVIDERS_OPENAI_PROXY"`
	Model       string  `json:"model" env:"DOTCHAT_PROVIDERS_OPENAI_MODEL"`
	MaxTokens   int     `json:"max_tokens" env:"DOTCHAT_PROVIDERS_OPENAI_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"DOTCHAT_PROVIDERS_OPENAI_TEMPERATURE"`
}

type StorageConfig struct {
	Path string `json:"path" env:"DOTCHAT_STORAGE_PATH"`
	// RetentionDays <= 0 keeps inactive dialogs forever.
	RetentionDays     int    `json:"retention_days" env:"DOTCHAT_STORAGE_RETENTION_DAYS"`
	RetentionSchedule string `json:"retention_schedule" env:"DOTCHAT_STORAGE_RETENTION_SCHEDULE"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"DOTCHAT_GATEWAY_HOST"`
	Port int    `json:"port" env:"DOTCHAT_GATEWAY_PORT"`
}

type LogConfig struct {
	Level  string `json:"level" env:"DOTCHAT_LOG_LEVEL"`
	Format string `json:"format" env:"DOTCHAT_LOG_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			NewDialogTimeoutSeconds: 60 * 30,
			ChatModesPath:           "",
			DefaultChatMode:         "assistant",
			PricePer1KTokens:        0.002,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Model:       "gpt-4o-mini",
				MaxTokens:   1000,
				Temperature: 0.7,
			},
		},
		Storage: StorageConfig{
			Path:              "~/.dotchat/state/dotchat.db",
			RetentionDays:     0,
			RetentionSchedule: "0 4 * * *",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18791,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig layers defaults, the JSON file at path (if present), a .env
// file next to it (if present) and DOTCHAT_* environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(dotenv); statErr == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks values that would make the core misbehave. Credentials are
// checked by the commands that need them.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Bot.NewDialogTimeoutSeconds <= 0 {
		return fmt.Errorf("bot.new_dialog_timeout_seconds must be positive, got %d", c.Bot.NewDialogTimeoutSeconds)
	}
	if c.Bot.PricePer1KTokens < 0 {
		return fmt.Errorf("bot.price_per_1k_tokens must not be negative")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

func (c *Config) NewDialogTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Bot.NewDialogTimeoutSeconds) * time.Second
}

func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Path)
}

func (c *Config) ChatModesPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Bot.ChatModesPath)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenAI.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenAI.APIBase != "" {
		return c.Providers.OpenAI.APIBase
	}
	return "https://api.openai.com/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
