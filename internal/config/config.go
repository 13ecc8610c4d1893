// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// CatalogConfig optionally overrides the embedded plan table. Override is
// a YAML (or JSON) list of catalog entries, or an object whose "plans" key
// holds that list; empty means "use defaults".
type CatalogConfig struct {
	Override string `mapstructure:"override"`
}

// LogConfig controls the zerolog writer.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Config is the complete application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadConfig reads config.yaml (if present), environment variables, and
// flags. database.url is the only required field — the catalog, redis
// lock, and log settings all have usable defaults so the process never
// fails to start over optional configuration.
func LoadConfig() (*Config, error) {
	cfgFile := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(*cfgFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	lockTTLStr := v.GetString("redis.lock_ttl")
	lockTTL, err := time.ParseDuration(lockTTLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.lock_ttl: %w", err)
	}
	cfg.Redis.LockTTL = lockTTL

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}

	return &cfg, nil
}

// LoadConfigFrom loads configuration from the provided YAML path (e.g.
// "config.test.yml"). Behavior:
//   - If the file exists, it is parsed (viper) and values are used.
//   - If the file does not exist, env vars are used.
//   - TEST_DATABASE_URL, when set, overrides database.url from any
//     source; DATABASE_URL is used only when database.url is still empty.
//   - It parses redis.lock_ttl into time.Duration, defaulting to 5s on
//     parse failure rather than erroring.
//   - It is lenient: it only requires database.url.
//
// This function is intended for tests/integration where only DB
// connectivity is needed.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound || errors.Is(err, os.ErrNotExist) {
			// file not found, continue to env fallback
		} else {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config from %s: %w", path, err)
	}

	lockTTLStr := v.GetString("redis.lock_ttl")
	if lockTTLStr == "" {
		lockTTLStr = "5s"
	}
	lockTTL, err := time.ParseDuration(lockTTLStr)
	if err != nil {
		lockTTL = 5 * time.Second
	}
	cfg.Redis.LockTTL = lockTTL

	if env := os.Getenv("TEST_DATABASE_URL"); env != "" {
		cfg.Database.URL = env
	} else if env := os.Getenv("DATABASE_URL"); env != "" && cfg.Database.URL == "" {
		cfg.Database.URL = env
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required (set TEST_DATABASE_URL, DATABASE_URL, or provide it in the YAML)")
	}

	return &cfg, nil
}
