// Package config loads server and client settings.
//
// Values come from, highest priority first: command line flags, ROLLCALL_*
// environment variables, the optional config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g. ROLLCALL_SERVER
const EnvPrefix = "ROLLCALL"

// Storage backends
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Server holds settings of the record server
type Server struct {
	Addr            string        `mapstructure:"addr"`
	Storage         string        `mapstructure:"storage"`
	DBPath          string        `mapstructure:"db"`
	JWTSecret       string        `mapstructure:"jwt-secret"`
	SchemaPath      string        `mapstructure:"schema"`
	LogLevel        string        `mapstructure:"log-level"`
	TokenTTL        time.Duration `mapstructure:"token-ttl"`
	RateWindow      time.Duration `mapstructure:"rate-window"`
	PingInterval    time.Duration `mapstructure:"ping-interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	RateLimit       int           `mapstructure:"rate-limit"`
	FeedBuffer      int           `mapstructure:"feed-buffer"`
}

// Client holds settings of the command line client
type Client struct {
	Server     string        `mapstructure:"server"`
	ActorID    string        `mapstructure:"actor"`
	Token      string        `mapstructure:"token"`
	CachePath  string        `mapstructure:"cache"`
	SchemaPath string        `mapstructure:"schema"`
	LogLevel   string        `mapstructure:"log-level"`
	Quiet      time.Duration `mapstructure:"quiet"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerFlags registers server flags with their defaults
func ServerFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to config file (yaml, json or toml)")
	f.String("addr", ":8080", "HTTP listen address")
	f.String("storage", StorageSQLite, "Storage backend: sqlite or memory")
	f.String("db", "rollcall.db", "Path to SQLite database")
	f.String("jwt-secret", "", "Secret for actor tokens; empty trusts the X-Actor-ID header")
	f.String("schema", "", "Path to record schema (yaml); empty uses the participant schema")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.Duration("token-ttl", 24*time.Hour, "Lifetime of issued actor tokens")
	f.Int("rate-limit", 120, "Writes per actor per rate window, 0 disables")
	f.Duration("rate-window", time.Minute, "Rate limit window")
	f.Duration("ping-interval", 30*time.Second, "Websocket ping interval of the change feed")
	f.Int("feed-buffer", 256, "Per-subscriber change feed buffer")
	f.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
}

// ClientFlags registers client flags with their defaults
func ClientFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to config file (yaml, json or toml)")
	f.String("server", "http://localhost:8080", "Server URL")
	f.String("actor", "", "Actor ID sent to servers running without tokens")
	f.String("token", "", "Actor token")
	f.String("cache", "rollcall-cache.db", "Path to local record cache")
	f.String("schema", "", "Path to record schema (yaml); empty uses the participant schema")
	f.String("log-level", "warn", "Log level: debug, info, warn, error")
	f.Duration("quiet", 800*time.Millisecond, "Quiet window before edits are saved")
	f.Duration("timeout", 30*time.Second, "HTTP request timeout")
}

// LoadServer reads server settings bound to cmd's flags
func LoadServer(cmd *cobra.Command) (*Server, error) {
	v, err := load(cmd)
	if err != nil {
		return nil, err
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode server config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads client settings bound to cmd's flags
func LoadClient(cmd *cobra.Command) (*Client, error) {
	v, err := load(cmd)
	if err != nil {
		return nil, err
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode client config: %w", err)
	}

	if cfg.Server == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.Quiet < 0 {
		return nil, fmt.Errorf("quiet window must not be negative: %s", cfg.Quiet)
	}
	return &cfg, nil
}

// Validate checks server settings
func (s *Server) Validate() error {
	switch s.Storage {
	case StorageSQLite:
		if s.DBPath == "" {
			return errors.New("db path is required for sqlite storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q: use %s or %s", s.Storage, StorageSQLite, StorageMemory)
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative: %d", s.RateLimit)
	}
	if s.RateLimit > 0 && s.RateWindow <= 0 {
		return errors.New("rate window must be positive")
	}
	return nil
}

// ParseLevel maps a level name to slog.Level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

func load(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}
