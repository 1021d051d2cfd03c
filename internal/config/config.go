package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Web      WebConfig      `toml:"web"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Realtime RealtimeConfig `toml:"realtime"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	// PurgeSchedule is a cron expression for the TTL sweep
	PurgeSchedule string `toml:"purge_schedule"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// WebhookConfig holds the outbound webhook target. An empty URL means
// dispatch is not configured and fails fast.
type WebhookConfig struct {
	URL    string `toml:"url"`
	Secret string `toml:"secret"`
}

// RealtimeConfig holds knobs for the realtime channel
type RealtimeConfig struct {
	// Suggested client backoff bounds, surfaced on the health endpoint
	// so clients can pick them up instead of hardcoding
	ReconnectInitialSecs int `toml:"reconnect_initial_secs"`
	ReconnectMaxSecs     int `toml:"reconnect_max_secs"`
	PollFallbackAttempts int `toml:"poll_fallback_attempts"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:  filepath.Join(home, ".flowforge", "flowforge.db"),
			PurgeSchedule: "@hourly",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Realtime: RealtimeConfig{
			ReconnectInitialSecs: 1,
			ReconnectMaxSecs:     60,
			PollFallbackAttempts: 5,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flowforge", "config.toml")
}
