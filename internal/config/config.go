// Package config loads the daemon configuration from /etc/zeus-ci/config.yml.
// A missing file is not an error; every field has a usable default.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the root of the configuration file.
type Config struct {
	Database          Database  `mapstructure:"database"`
	Listener          Listener  `mapstructure:"listener"`
	BuildCoordinator  Builds    `mapstructure:"build_coordinator"`
	ResourceAllocator Allocator `mapstructure:"resource_allocator"`
	Logging           Logging   `mapstructure:"logging"`
	Workspace         Workspace `mapstructure:"workspace"`
	BuildLogDir       string    `mapstructure:"build_log_dir"`
}

// Database selects the SQL driver and its connection string.
type Database struct {
	Protocol string `mapstructure:"protocol"`
	Args     string `mapstructure:"args"`
}

// Listener configures the webhook HTTP server.
type Listener struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// Builds configures the coordinator loop and its worker pool.
type Builds struct {
	RunnerThreads    int `mapstructure:"runner_threads"`
	ConcurrentBuilds int `mapstructure:"concurrent_builds"`
	BuildPollSec     int `mapstructure:"build_poll_sec"`
}

// Allocator locates the shared container-allocation service.
type Allocator struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// Logging configures level, format and the optional log file.
type Logging struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Filepath string `mapstructure:"filepath"`
}

// Workspace configures the per-workflow shared directory root.
type Workspace struct {
	Root string `mapstructure:"root"`
}

// EnvLogLevel overrides the configured log level when set.
const EnvLogLevel = "ZEUS_CI_LOGLEVEL"

const defaultConfigDir = "/etc/zeus-ci"

// Load reads the configuration from the given directories, falling back to
// /etc/zeus-ci. A missing file yields the defaults.
func Load(searchDirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchDirs) == 0 {
		searchDirs = []string{defaultConfigDir}
	}
	for _, dir := range searchDirs {
		v.AddConfigPath(dir)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.protocol", "sqlite")
	v.SetDefault("database.args", "/tmp/zeus-ci.db")
	v.SetDefault("listener.address", "0.0.0.0")
	v.SetDefault("listener.port", 4230)
	v.SetDefault("build_coordinator.runner_threads", 4)
	v.SetDefault("build_coordinator.concurrent_builds", 4)
	v.SetDefault("build_coordinator.build_poll_sec", 10)
	v.SetDefault("resource_allocator.address", "localhost")
	v.SetDefault("resource_allocator.port", 18861)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("workspace.root", "/tmp/zeus-ci")
	v.SetDefault("build_log_dir", "/etc/zeus-ci/builds")
}
