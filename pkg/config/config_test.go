package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestDefaultConfig_NewDialogTimeout verifies the inactivity window defaults to 30 minutes
func TestDefaultConfig_NewDialogTimeout(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.NewDialogTimeout(); got != 30*time.Minute {
		t.Errorf("NewDialogTimeout() = %v, want 30m", got)
	}
}

// TestDefaultConfig_ChatMode verifies the default chat mode key is set
func TestDefaultConfig_ChatMode(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Bot.DefaultChatMode != "assistant" {
		t.Errorf("DefaultChatMode = %q, want %q", cfg.Bot.DefaultChatMode, "assistant")
	}
}

// TestDefaultConfig_Price verifies the balance price default
func TestDefaultConfig_Price(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Bot.PricePer1KTokens != 0.002 {
		t.Errorf("PricePer1KTokens = %v, want 0.002", cfg.Bot.PricePer1KTokens)
	}
}

func TestDefaultConfig_Credentials(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Providers.OpenAI.APIKey != "" {
		t.Error("OpenAI API key should be empty by default")
	}
	if cfg.Channels.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
}

func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Error("Gateway host should have default value")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Gateway port should have default value")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"bot": {"new_dialog_timeout_seconds": 600},
		"channels": {"discord": {"token": "file-token", "allow_from": [123, "alice"]}},
		"providers": {"openai": {"api_key": "file-key"}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOTCHAT_PROVIDERS_OPENAI_API_KEY", "env-key")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.NewDialogTimeout(); got != 10*time.Minute {
		t.Fatalf("expected timeout from file, got %v", got)
	}
	if got := cfg.Channels.Discord.Token; got != "file-token" {
		t.Fatalf("expected discord token from file, got %q", got)
	}
	if got := cfg.GetAPIKey(); got != "env-key" {
		t.Fatalf("expected env override for api key, got %q", got)
	}
	allow := cfg.Channels.Discord.AllowFrom
	if len(allow) != 2 || allow[0] != "123" || allow[1] != "alice" {
		t.Fatalf("unexpected allow_from: %#v", allow)
	}
}

func TestLoadConfig_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DOTCHAT_PROVIDERS_OPENAI_MODEL=dotenv-model\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv.Load never overrides variables that are already set.
	t.Setenv("DOTCHAT_PROVIDERS_OPENAI_MODEL", "")
	os.Unsetenv("DOTCHAT_PROVIDERS_OPENAI_MODEL")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Providers.OpenAI.Model; got != "dotenv-model" {
		t.Fatalf("expected model from .env, got %q", got)
	}
}

func TestLoadConfig_RejectsNonPositiveTimeout(t *testing.T) {
	t.Setenv("DOTCHAT_BOT_NEW_DIALOG_TIMEOUT_SECONDS", "0")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for zero timeout")
	}
}
