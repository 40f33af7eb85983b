package internal

import (
	"fmt"
	"strings"

	"github.com/hbomb79/Medialink/internal/api"
	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/hbomb79/Medialink/internal/resolve"
	"github.com/hbomb79/Medialink/internal/secret"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the struct used to contain the various user config
// supplied by file and/or environment variables. Environment
// variables always take precedence over the file.
type Config struct {
	LogLevel   string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	RestConfig api.RestConfig `yaml:"api"`
	Resolve    resolve.Config `yaml:"resolve"`
	Secret     secret.Config  `yaml:"secret"`
	Extract    ExtractConfig  `yaml:"extract"`
}

// ExtractConfig is a subset of the configuration which controls
// how media URLs are extracted.
type ExtractConfig struct {
	YtDlp         extract.YtDlpConfig `yaml:"ytdlp"`
	EnableGeneric bool                `yaml:"enable_generic" env:"ENABLE_GENERIC_EXTRACTOR" env-default:"true"`
	Cache         extract.CacheConfig `yaml:"cache"`
}

// LoadConfig populates a Config using the YAML file at the path provided,
// overlaid with the environment. If the path is empty, only the environment
// (and defaults) are used.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	if configPath != "" {
		if err := cleanenv.ReadConfig(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (config *Config) validate() error {
	if config.Resolve.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", config.Resolve.TokenTTL)
	}
	if config.Resolve.ExtractTimeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive, got %s", config.Resolve.ExtractTimeout)
	}

	switch strings.ToLower(config.Extract.Cache.Backend) {
	case "", "none", "memory":
	case "redis":
		if config.Extract.Cache.RedisURL == "" {
			return fmt.Errorf("cache backend 'redis' requires REDIS_URL to be set")
		}
	default:
		return fmt.Errorf("unknown cache backend %q, expected one of none|memory|redis", config.Extract.Cache.Backend)
	}

	return nil
}
