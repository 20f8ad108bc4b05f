// Package config loads client and server settings.
//
// Values come from defaults, then $TASKSIMPLE_HOME/config.yaml, then
// TASKSIMPLE_* environment variables, then any flags bound to the viper
// instance passed in. The server also reads a .env file first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TASKSIMPLE"

// MinSecretLength is required of the JWT secret in production.
const MinSecretLength = 32

// Client is the CLI and daemon configuration.
type Client struct {
	ServerURL      string        `mapstructure:"server_url"`
	DataDir        string        `mapstructure:"data_dir"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LogFile        string        `mapstructure:"log_file"`
}

// Server is the API server configuration.
type Server struct {
	Listen           string        `mapstructure:"listen"`
	DatabaseURL      string        `mapstructure:"database_url"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	Production       bool          `mapstructure:"production"`
	TokenLifetime    time.Duration `mapstructure:"token_lifetime"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	SignInRate       float64       `mapstructure:"signin_rate"`
	SignInBurst      int           `mapstructure:"signin_burst"`
	TrustProxy       bool          `mapstructure:"trust_proxy"`
	LogFile          string        `mapstructure:"log_file"`
}

// Home returns the TaskSimple directory: $TASKSIMPLE_HOME, or
// ~/.tasksimple.
func Home() string {
	if h := os.Getenv(EnvPrefix + "_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasksimple"
	}
	return filepath.Join(home, ".tasksimple")
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(Home(), "config.yaml")
}

func clientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("data_dir", Home())
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("probe_interval", 5*time.Second)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("log_file", "")
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("database_url", filepath.Join(Home(), "server.db"))
	v.SetDefault("jwt_secret", "")
	v.SetDefault("production", false)
	v.SetDefault("token_lifetime", 365*24*time.Hour)
	v.SetDefault("refresh_threshold", 7*24*time.Hour)
	v.SetDefault("signin_rate", 0.2)
	v.SetDefault("signin_burst", 5)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("log_file", "")
}

// LoadClient reads the client configuration. Flags already bound to v take
// precedence. v may be nil.
func LoadClient(v *viper.Viper) (*Client, error) {
	if v == nil {
		v = viper.New()
	}
	clientDefaults(v)
	if err := read(v); err != nil {
		return nil, err
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks the client settings.
func (c *Client) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.SyncInterval <= 0 || c.ProbeInterval <= 0 {
		return errors.New("sync_interval and probe_interval must be positive")
	}
	return nil
}

// LoadServer loads envFile (when present) into the environment and reads
// the server configuration. v may be nil. Call Validate before serving;
// maintenance commands need only the database settings.
func LoadServer(v *viper.Viper, envFile string) (*Server, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if v == nil {
		v = viper.New()
	}
	serverDefaults(v)
	if err := read(v); err != nil {
		return nil, err
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	return &cfg, nil
}

// Validate checks the server settings.
func (s *Server) Validate() error {
	switch {
	case s.JWTSecret == "":
		return errors.New("jwt_secret is required (set TASKSIMPLE_JWT_SECRET)")
	case s.Production && len(s.JWTSecret) < MinSecretLength:
		return fmt.Errorf("jwt_secret must be at least %d bytes in production", MinSecretLength)
	case s.RefreshThreshold >= s.TokenLifetime:
		return errors.New("refresh_threshold must be shorter than token_lifetime")
	}
	return nil
}

// read layers the config file and the environment onto v.
func read(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := Path()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
