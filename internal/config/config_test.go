package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 8080 || cfg.Web.Host != "127.0.0.1" {
		t.Errorf("web defaults = %+v", cfg.Web)
	}
	if cfg.General.PurgeSchedule != "@hourly" {
		t.Errorf("PurgeSchedule = %q", cfg.General.PurgeSchedule)
	}
	if cfg.Webhook.URL != "" {
		t.Errorf("Webhook.URL = %q, want unset", cfg.Webhook.URL)
	}
	if cfg.Realtime.ReconnectInitialSecs != 1 || cfg.Realtime.ReconnectMaxSecs != 60 {
		t.Errorf("realtime defaults = %+v", cfg.Realtime)
	}
}

func TestLoad_PartialFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[web]
port = 9090

[webhook]
url = "https://worker.example.com/hook"
secret = "s3cret"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default kept", cfg.Web.Host)
	}
	if cfg.Webhook.URL != "https://worker.example.com/hook" || cfg.Webhook.Secret != "s3cret" {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[web\nport ="), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load with malformed file = nil, want error")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandPath("~/data/app.db"); got != filepath.Join(home, "data", "app.db") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/var/lib/app.db"); got != "/var/lib/app.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[web]\nport = 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go func() {
		Watch(ctx, path, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[web]\nport = 9191\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Web.Port != 9191 {
			t.Errorf("reloaded port = %d, want 9191", cfg.Web.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
