// Package config loads and validates application configuration.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/dispatch"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/queue"
	"github.com/jonesrussell/goregistry/internal/worker"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig        `yaml:"server" mapstructure:"server"`
	Database database.Config     `yaml:"database" mapstructure:"database"`
	Redis    queue.StreamsConfig `yaml:"redis" mapstructure:"redis"`
	Logger   logger.Config       `yaml:"logger" mapstructure:"logger"`
	Registry RegistryConfig      `yaml:"registry" mapstructure:"registry"`
	Worker   worker.Config       `yaml:"worker" mapstructure:"worker"`
	Dispatch dispatch.Config     `yaml:"dispatch" mapstructure:"dispatch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" mapstructure:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// RegistryConfig holds registry-specific configuration.
type RegistryConfig struct {
	// CacheDir is the root directory dataset clones live under.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`

	// Extractors names the metadata extractors fanned out after processing.
	Extractors []string `yaml:"extractors" mapstructure:"extractors"`

	// ExtractorCommand is the executable invoked to run an extractor.
	ExtractorCommand string `yaml:"extractor_command" mapstructure:"extractor_command"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the REGISTRY_ prefix with
// underscores, e.g. REGISTRY_DATABASE_HOST.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/goregistry")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers configuration defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.dbname", "registry")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "registry")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("registry.cache_dir", "/var/cache/goregistry")
	v.SetDefault("registry.extractors", defaultExtractors())
	v.SetDefault("registry.extractor_command", "dataset-extract")

	v.SetDefault("worker.pool_size", 5)
	v.SetDefault("worker.task_timeout", 10*time.Minute)
	v.SetDefault("worker.drain_timeout", 30*time.Second)

	v.SetDefault("dispatch.batch_size", 10)
	v.SetDefault("dispatch.interval", time.Minute)
	v.SetDefault("dispatch.min_check_interval", time.Hour)
	v.SetDefault("dispatch.max_failed_checks", 10)
}

// defaultExtractors lists the extractors with known required-file rules.
func defaultExtractors() []string {
	names := make([]string, 0, len(dataset.DefaultRequiredFiles))
	for name := range dataset.DefaultRequiredFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server address is required")
	}
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.Registry.CacheDir == "" {
		return errors.New("registry cache dir is required")
	}
	if c.Registry.ExtractorCommand == "" {
		return errors.New("registry extractor command is required")
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}
