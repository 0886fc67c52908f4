package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override file values
const (
	EnvRedisURL       = "ROOMSYNC_REDIS_URL"
	EnvDeviceName     = "ROOMSYNC_DEVICE_NAME"
	EnvAPITokenHash   = "ROOMSYNC_API_TOKEN_HASH"
	EnvNgrokAuthToken = "NGROK_AUTHTOKEN"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Identity IdentityConfig `toml:"identity"`
	Device   DeviceConfig   `toml:"device"`
	Sync     SyncConfig     `toml:"sync"`
	Retry    RetryConfig    `toml:"retry"`
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// StoreConfig selects the remote store shared by every device in a room
type StoreConfig struct {
	Backend             string `toml:"backend"`
	RedisURL            string `toml:"redis_url"`
	TreeKey             string `toml:"tree_key"`
	Channel             string `toml:"channel"`
	PingIntervalSeconds int    `toml:"ping_interval_seconds"`
}

// IdentityConfig locates the file holding this device's user id
type IdentityConfig struct {
	Path string `toml:"path"`
}

// DeviceConfig names this device for other participants. Empty means guess
// from the host.
type DeviceConfig struct {
	Name string `toml:"name"`
}

// SyncConfig tunes the sync engines
type SyncConfig struct {
	ThrottleMillis          int `toml:"throttle_ms"`
	PlaylistCooldownSeconds int `toml:"playlist_cooldown_seconds"`
}

// RetryConfig is the connection retry policy
type RetryConfig struct {
	MaxAttempts        int `toml:"max_attempts"`
	InitialDelayMillis int `toml:"initial_delay_ms"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LibraryConfig contains the optional music folder imported into a list
type LibraryConfig struct {
	Path             string   `toml:"path"`
	ListID           string   `toml:"list_id"`
	SupportedFormats []string `toml:"supported_formats"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	Workers          int      `toml:"workers"`
}

// ServerConfig contains control API configuration
type ServerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	EnableCORS     bool   `toml:"enable_cors"`
	RequestLogging bool   `toml:"request_logging"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	// TokenHash is a bcrypt hash of the API bearer token
	TokenHash string `toml:"token_hash"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:             BackendRedis,
			RedisURL:            "redis://localhost:6379/0",
			TreeKey:             "roomsync:tree",
			Channel:             "roomsync:changes",
			PingIntervalSeconds: 5,
		},
		Identity: IdentityConfig{
			Path: "./roomsync.id",
		},
		Sync: SyncConfig{
			ThrottleMillis:          200,
			PlaylistCooldownSeconds: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:        3,
			InitialDelayMillis: 1000,
		},
		Database: DatabaseConfig{
			Path: "./roomsync.db",
		},
		Library: LibraryConfig{
			Path:             "",
			ListID:           "default",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			ScanOnStartup:    true,
			WatchForChanges:  true,
			Workers:          4,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           "8787",
			Host:           "127.0.0.1",
			EnableCORS:     false,
			RequestLogging: true,
			ReadTimeout:    30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			AuthToken:    "",
			Domain:       "",
			EnableAuth:   false,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// environment overrides
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := LoadEnvFile(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads path into the process environment if it exists. Variables
// already set are left alone.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides values from the environment. getenv is os.Getenv outside
// tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvRedisURL); v != "" {
		c.Store.RedisURL = v
		c.Store.Backend = BackendRedis
	}
	if v := getenv(EnvDeviceName); v != "" {
		c.Device.Name = v
	}
	if v := getenv(EnvAPITokenHash); v != "" {
		c.Server.TokenHash = v
	}
	if v := getenv(EnvNgrokAuthToken); v != "" && c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = v
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# roomsync configuration
# Devices sharing a store can create and join listening rooms.
# Secrets may also be set in a .env file next to this one.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store redis_url cannot be empty for the redis backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory or redis)", c.Store.Backend)
	}
	if c.Store.PingIntervalSeconds < 0 {
		return fmt.Errorf("store ping interval must be positive")
	}

	if c.Identity.Path == "" {
		return fmt.Errorf("identity path cannot be empty")
	}

	if c.Sync.ThrottleMillis < 0 {
		return fmt.Errorf("sync throttle must be positive")
	}
	if c.Sync.PlaylistCooldownSeconds < 0 {
		return fmt.Errorf("playlist cooldown must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.InitialDelayMillis < 0 {
		return fmt.Errorf("retry initial delay must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Library.Path != "" {
		if c.Library.ListID == "" {
			return fmt.Errorf("library list id cannot be empty when a library path is set")
		}
		if len(c.Library.SupportedFormats) == 0 {
			return fmt.Errorf("at least one supported audio format must be specified")
		}
		if c.Library.Workers < 1 {
			return fmt.Errorf("library workers must be at least 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port == "" {
			return fmt.Errorf("server port cannot be empty")
		}
		if c.Server.Host == "" {
			return fmt.Errorf("server host cannot be empty")
		}
		if c.Server.ReadTimeout < 0 {
			return fmt.Errorf("server read timeout must be positive")
		}
		if !c.isLoopback() && c.Server.TokenHash == "" {
			return fmt.Errorf("server token_hash is required when listening on %s", c.Server.Host)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Ngrok.Enabled {
		if !c.Server.Enabled {
			return fmt.Errorf("ngrok requires the control API to be enabled")
		}
		if c.Ngrok.AuthToken == "" {
			return fmt.Errorf("ngrok auth token not found, set %s in .env or auth_token in config", EnvNgrokAuthToken)
		}
		if c.Server.TokenHash == "" && !c.Ngrok.EnableAuth {
			return fmt.Errorf("ngrok exposes the control API publicly, set server token_hash or enable ngrok auth")
		}
	}

	return nil
}

func (c *Config) isLoopback() bool {
	if strings.EqualFold(c.Server.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Server.Host)
	return ip != nil && ip.IsLoopback()
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// ThrottleWait is the minimum spacing of playback pushes
func (c *Config) ThrottleWait() time.Duration {
	return time.Duration(c.Sync.ThrottleMillis) * time.Millisecond
}

// PlaylistCooldown is the minimum spacing of playlist pushes
func (c *Config) PlaylistCooldown() time.Duration {
	return time.Duration(c.Sync.PlaylistCooldownSeconds) * time.Second
}

// RetryInitialDelay is the wait after the first failed connection attempt
func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelayMillis) * time.Millisecond
}

// PingInterval is how often the redis store checks reachability
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Store.PingIntervalSeconds) * time.Second
}
