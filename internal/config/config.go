package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type ReportsConfig struct {
	Directory string `yaml:"directory"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	// StateDir holds the on-disk report formats.
	StateDir string        `yaml:"state_dir"`
	Reports  ReportsConfig `yaml:"reports"`
	Log      LogConfig     `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9390,
		},
		Database: DatabaseConfig{
			Path:        "tasks.db",
			BusyTimeout: 5 * time.Second,
		},
		StateDir: "./state",
		Reports: ReportsConfig{
			Directory: "./reports",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if _, err := cfg.LogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parsing log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}
