package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNoProject is returned when no rtext.yml is found above a directory
var ErrNoProject = errors.New("not in an rtext project (no rtext.yml found)")

// Config represents the rtext configuration
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServiceConfig represents backend service configuration
type ServiceConfig struct {
	Host          string        `mapstructure:"host"`
	PortMin       int           `mapstructure:"port_min"`
	PortMax       int           `mapstructure:"port_max"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// WorkspaceConfig describes the model files served
type WorkspaceConfig struct {
	Root     string   `mapstructure:"root"`
	Patterns []string `mapstructure:"patterns"`
	Schema   string   `mapstructure:"schema"`
	Watch    bool     `mapstructure:"watch"`
}

// SearchConfig represents find_elements configuration
type SearchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads the configuration from rtext.yml or rtext.yaml in dir.
// Relative workspace paths are resolved against dir.
func Load(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("service.host", "127.0.0.1")
	v.SetDefault("service.port_min", 9001)
	v.SetDefault("service.port_max", 9100)
	v.SetDefault("service.idle_timeout", time.Hour)
	v.SetDefault("service.poll_interval", 100*time.Millisecond)
	v.SetDefault("service.flush_interval", time.Second)
	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.patterns", []string{"*.rt"})
	v.SetDefault("workspace.schema", "schema.yml")
	v.SetDefault("workspace.watch", false)
	v.SetDefault("search.max_results", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetConfigName("rtext")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// RTEXT_SERVICE_PORT_MIN overrides service.port_min
	v.SetEnvPrefix("RTEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Workspace.Root = resolve(dir, config.Workspace.Root)
	config.Workspace.Schema = resolve(dir, config.Workspace.Schema)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(dir, path))
}

// FindProjectRoot walks up from dir to the first directory holding
// rtext.yml or rtext.yaml
func FindProjectRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"rtext.yml", "rtext.yaml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProject
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	s := cfg.Service
	if s.PortMin < 0 || s.PortMax > 65535 {
		return fmt.Errorf("service port range %d-%d is out of bounds", s.PortMin, s.PortMax)
	}
	if s.PortMin > s.PortMax {
		return fmt.Errorf("service.port_min (%d) must not exceed service.port_max (%d)", s.PortMin, s.PortMax)
	}
	if s.PollInterval <= 0 || s.PollInterval > time.Second {
		return fmt.Errorf("service.poll_interval must be positive and at most 1s, got: %s", s.PollInterval)
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("service.idle_timeout must be positive, got: %s", s.IdleTimeout)
	}
	if s.FlushInterval <= 0 {
		return fmt.Errorf("service.flush_interval must be positive, got: %s", s.FlushInterval)
	}

	if len(cfg.Workspace.Patterns) == 0 {
		return errors.New("workspace.patterns must not be empty")
	}
	for _, p := range cfg.Workspace.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid workspace pattern %q: %w", p, err)
		}
	}
	if cfg.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got: %d", cfg.Search.MaxResults)
	}
	return nil
}
