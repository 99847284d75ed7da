// Package config loads yaml configuration overridable from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Option customizes the viper instance before the file is read
type Option func(*loader)

type loader struct {
	v            *viper.Viper
	allowMissing bool
}

// WithDefaults registers default values, keys use dots for nesting
func WithDefaults(defaults map[string]any) Option {
	return func(l *loader) {
		for k, v := range defaults {
			l.v.SetDefault(k, v)
		}
	}
}

// WithEnvPrefix reads PREFIX_SECTION_KEY variables
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) {
		l.v.SetEnvPrefix(prefix)
	}
}

// AllowMissing loads defaults and environment when the file does not exist
func AllowMissing() Option {
	return func(l *loader) {
		l.allowMissing = true
	}
}

// Load reads filename.yaml from path into a T
func Load[T any](path string, filename string, opts ...Option) (*T, error) {
	l := &loader{v: viper.New()}
	l.v.AddConfigPath(path)
	l.v.SetConfigName(filename)
	l.v.SetConfigType("yaml")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, opt := range opts {
		opt(l)
	}
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !l.allowMissing || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg T
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

const EnvPrefix = "STILLSUIT"

// Drivers understood by the orders service
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the configuration of the orders service
type Config struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
	NATS   NATSConfig  `mapstructure:"nats"`
	HTTP   HTTPConfig  `mapstructure:"http"`
	Log    LogConfig   `mapstructure:"log"`
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	DB   int           `mapstructure:"db"`
	TTL  time.Duration `mapstructure:"ttl"`
	// CacheTTL enables the query result cache of the SQL drivers when positive
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type NATSConfig struct {
	// URL publishes commit events to NATS when set, in process otherwise
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Defaults returns the values used when neither the file nor the
// environment sets a key
func Defaults() map[string]any {
	return map[string]any{
		"driver":          DriverMemory,
		"dsn":             "",
		"redis.addr":      "localhost:6379",
		"redis.db":        0,
		"redis.ttl":       time.Duration(0),
		"redis.cache_ttl": time.Duration(0),
		"nats.url":        "",
		"http.addr":       ":8080",
		"log.level":       "info",
		"log.json":        false,
	}
}

// LoadService reads the service configuration, the file being optional
func LoadService(path, filename string) (*Config, error) {
	cfg, err := Load[Config](path, filename,
		WithDefaults(Defaults()),
		WithEnvPrefix(EnvPrefix),
		AllowMissing(),
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the driver settings
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("driver %s requires a dsn", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr cannot be empty")
	}
	return nil
}
