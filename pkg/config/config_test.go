package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ActivityBufferSize != 50 {
		t.Errorf("expected default buffer size 50, got %d", cfg.ActivityBufferSize)
	}
	if cfg.HeartbeatInterval.Duration != 5*time.Minute {
		t.Errorf("expected default heartbeat 5m, got %v", cfg.HeartbeatInterval)
	}
	if cfg.ClockSyncInterval.Duration != 10*time.Minute {
		t.Errorf("expected default clock sync 10m, got %v", cfg.ClockSyncInterval)
	}
	if cfg.StorageDir == "" {
		t.Error("expected a default storage dir")
	}
}

func TestLoadConfigParsesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
base_url = "https://portal.example.com"
tenant = "acme"
user_id = "u-1"
department = "maintenance"
token = "jwt-here"
storage_dir = "/tmp/portalsync-test"
activity_buffer_size = 100
heartbeat_interval = "90s"
clock_sync_interval = "20m"
listen_addr = "127.0.0.1:9180"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != "https://portal.example.com" || cfg.Tenant != "acme" || cfg.UserID != "u-1" {
		t.Errorf("core fields lost: %+v", cfg)
	}
	if cfg.HeartbeatInterval.Duration != 90*time.Second {
		t.Errorf("heartbeat interval not parsed: %v", cfg.HeartbeatInterval)
	}
	if cfg.ClockSyncInterval.Duration != 20*time.Minute {
		t.Errorf("clock sync interval not parsed: %v", cfg.ClockSyncInterval)
	}
	if cfg.ActivityBufferSize != 100 {
		t.Errorf("buffer size not parsed: %d", cfg.ActivityBufferSize)
	}
	if cfg.ListenAddr != "127.0.0.1:9180" {
		t.Errorf("listen addr not parsed: %q", cfg.ListenAddr)
	}
}

func TestLoadConfigTokenEnvFallback(t *testing.T) {
	t.Setenv("PORTALSYNC_TOKEN", "env-jwt")

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
base_url = "https://portal.example.com"
tenant = "acme"
user_id = "u-1"
storage_dir = "/tmp/portalsync-test"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "env-jwt" {
		t.Errorf("env token fallback missing: %q", cfg.Token)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{BaseURL: "https://x", Tenant: "acme", UserID: "u-1"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing base_url", Config{Tenant: "acme", UserID: "u-1"}, "base_url"},
		{"missing tenant", Config{BaseURL: "https://x", UserID: "u-1"}, "tenant"},
		{"missing user_id", Config{BaseURL: "https://x", Tenant: "acme"}, "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := &Config{
		BaseURL:            "https://portal.example.com",
		Tenant:             "acme",
		UserID:             "u-1",
		StorageDir:         "/tmp/portalsync-test",
		ActivityBufferSize: 25,
		HeartbeatInterval:  Duration{time.Minute},
		ClockSyncInterval:  Duration{2 * time.Minute},
	}

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading config: %v", err)
	}
	if loaded.BaseURL != cfg.BaseURL || loaded.ActivityBufferSize != 25 {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	if loaded.HeartbeatInterval.Duration != time.Minute {
		t.Errorf("round trip lost duration: %v", loaded.HeartbeatInterval)
	}
}

func TestSaveTemplateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := &Config{}
	if err := cfg.SaveTemplateConfig(path); err != nil {
		t.Fatalf("SaveTemplateConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "base_url") {
		t.Error("template missing base_url documentation")
	}
}
