package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Config holds everything the sync engine needs to reach the portal
// backend and persist local state.
type Config struct {
	// BaseURL is the portal API root, e.g. https://portal.example.com.
	BaseURL string `toml:"base_url"`
	// Tenant scopes cursors, topics and invalidation buckets.
	Tenant string `toml:"tenant"`
	// UserID is the authenticated portal user for broker topics.
	UserID string `toml:"user_id"`
	// Department is used for the activity-history invalidation bucket.
	Department string `toml:"department,omitempty"`
	// Token is the bearer credential for the stream and token
	// endpoints. Falls back to PORTALSYNC_TOKEN when empty.
	Token string `toml:"token,omitempty"`

	// StorageDir holds the sqlite state database (cursor + outbound
	// queue).
	StorageDir string `toml:"storage_dir"`

	// ActivityBufferSize bounds the in-memory ring of recent events.
	ActivityBufferSize int `toml:"activity_buffer_size"`

	// HeartbeatInterval controls the backend health probe cadence.
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	// ClockSyncInterval controls periodic server-clock reconciliation.
	ClockSyncInterval Duration `toml:"clock_sync_interval"`

	// ListenAddr, when set, enables the local read-only status/metrics
	// HTTP listener (e.g. 127.0.0.1:9180).
	ListenAddr string `toml:"listen_addr,omitempty"`
}

// Duration wraps time.Duration for human-readable TOML values ("5m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns a config populated with defaults.
func GetDefaultConfig() (*Config, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return nil, fmt.Errorf("getting default storage directory: %w", err)
	}
	return &Config{
		StorageDir:         storageDir,
		ActivityBufferSize: 50,
		HeartbeatInterval:  Duration{5 * time.Minute},
		ClockSyncInterval:  Duration{10 * time.Minute},
	}, nil
}

// LoadConfig reads the TOML config at configPath, applying defaults
// for anything unset. A missing file yields the default config.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		config.StorageDir = storageDir
	}
	if config.ActivityBufferSize <= 0 {
		config.ActivityBufferSize = 50
	}
	if config.HeartbeatInterval.Duration == 0 {
		config.HeartbeatInterval = Duration{5 * time.Minute}
	}
	if config.ClockSyncInterval.Duration == 0 {
		config.ClockSyncInterval = Duration{10 * time.Minute}
	}
	if config.Token == "" {
		config.Token = os.Getenv("PORTALSYNC_TOKEN")
	}

	return &config, nil
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// SaveConfig writes the config as TOML.
func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes a commented sample config for first-run
// setup.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, []byte(configTemplate), 0644)
}

// GetDefaultStorageDir returns the default directory for the state
// database, honoring XDG_DATA_HOME.
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "portalsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetConfigDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "portalsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
