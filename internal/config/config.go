package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix = "MONITOR"

	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultDBPath          = "machine_monitor.db"
	defaultSeedFile        = "configs/machines.yml"
	defaultPollInterval    = 1 * time.Second
	defaultRequestTimeout  = 500 * time.Millisecond
	defaultMaxConcurrency  = 16
	defaultRegistryRefresh = 1 * time.Minute
	defaultFocasHost       = "localhost"
	defaultFocasPort       = 5000
	defaultTimezone        = "America/New_York"
	defaultTokenTTL        = 1 * time.Hour
)

var (
	errEmptyDBPath        = errors.New("db.path must not be empty")
	errBadPollInterval    = errors.New("poller.interval must be > 0")
	errBadRequestTimeout  = errors.New("poller.request_timeout must be > 0")
	errBadMaxConcurrency  = errors.New("poller.max_concurrency must be > 0")
	errEmptySigningKey    = errors.New("auth.signing_key must not be empty")
	errRequestOutlastTick = errors.New("poller.request_timeout must not exceed poller.interval")
)

// Config is the typed view over config.yml and MONITOR_* environment overrides.
type Config struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Machines struct {
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"machines"`

	Poller PollerConfig `mapstructure:"poller"`
	Focas  FocasConfig  `mapstructure:"focas"`

	Report struct {
		Timezone string `mapstructure:"timezone"`
	} `mapstructure:"report"`

	Auth struct {
		SigningKey string        `mapstructure:"signing_key"`
		TokenTTL   time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// PollerConfig tunes the tick loop.
type PollerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	RegistryRefresh time.Duration `mapstructure:"registry_refresh"`
	Skip            []string      `mapstructure:"skip"`
}

// FocasConfig locates the JSON adapter service that fronts FOCAS controllers.
type FocasConfig struct {
	AdapterHost string `mapstructure:"adapter_host"`
	AdapterPort int    `mapstructure:"adapter_port"`
	APIKey      string `mapstructure:"api_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", defaultPort)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("db.path", defaultDBPath)
	v.SetDefault("machines.seed_file", defaultSeedFile)
	v.SetDefault("poller.interval", defaultPollInterval)
	v.SetDefault("poller.request_timeout", defaultRequestTimeout)
	v.SetDefault("poller.max_concurrency", defaultMaxConcurrency)
	v.SetDefault("poller.registry_refresh", defaultRegistryRefresh)
	v.SetDefault("poller.skip", []string{})
	v.SetDefault("focas.adapter_host", defaultFocasHost)
	v.SetDefault("focas.adapter_port", defaultFocasPort)
	v.SetDefault("focas.api_key", "")
	v.SetDefault("report.timezone", defaultTimezone)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", defaultTokenTTL)
	v.SetDefault("metrics.enabled", true)
}

// Load reads the config file at path (or configs/config.yml when path is empty).
// A missing configs/config.yml is not an error: defaults and environment still
// apply. An explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DB.Path) == "" {
		return errEmptyDBPath
	}
	if c.Poller.Interval <= 0 {
		return errBadPollInterval
	}
	if c.Poller.RequestTimeout <= 0 {
		return errBadRequestTimeout
	}
	if c.Poller.RequestTimeout > c.Poller.Interval {
		return errRequestOutlastTick
	}
	if c.Poller.MaxConcurrency <= 0 {
		return errBadMaxConcurrency
	}
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errEmptySigningKey
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone %q: %w", c.Report.Timezone, err)
	}
	return nil
}

// Location returns the reporting timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
