/*
Package config loads runtime settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. A .env file, when present (godotenv; never overrides real env vars)
  3. Process environment (viper AutomaticEnv)

KEYS:
  HTTP_ADDR               listen address               :8080
  STORE_DRIVER            sqlite | postgres | memory   sqlite
  SQLITE_PATH             database file                dorm.db
  DB_HOST .. DB_SSLMODE   postgres connection
  DB_MAX_CONNS, DB_MAX_IDLE
  REDIS_ADDR              empty = in-process cache and locks
  REDIS_PASSWORD, REDIS_DB
  SETTINGS_CACHE_TTL      settings cache lifetime      5m
  LOCK_TTL                redis lock expiry            30s
  NOTIFY_WEBHOOK_URL      empty = log only
  OVERDUE_SWEEP_ENABLED   run the overdue sweeper      false
  OVERDUE_SWEEP_INTERVAL                               1h
  LOG_LEVEL, LOG_FORMAT   see logging.New              info, json
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/dorm-engine/store/postgres"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr string

	StoreDriver string
	SQLitePath  string
	Postgres    postgres.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SettingsCacheTTL time.Duration
	LockTTL          time.Duration

	NotifyWebhookURL string

	OverdueSweepEnabled  bool
	OverdueSweepInterval time.Duration

	LogLevel  string
	LogFormat string
}

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "dorm.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "dorm")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE", 5)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SETTINGS_CACHE_TTL", 5*time.Minute)
	v.SetDefault("LOCK_TTL", 30*time.Second)
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("OVERDUE_SWEEP_ENABLED", false)
	v.SetDefault("OVERDUE_SWEEP_INTERVAL", time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads envFile (ignored when empty or missing) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		HTTPAddr:    v.GetString("HTTP_ADDR"),
		StoreDriver: v.GetString("STORE_DRIVER"),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		Postgres: postgres.Config{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt("DB_MAX_CONNS"),
			MaxIdle:  v.GetInt("DB_MAX_IDLE"),
		},
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		SettingsCacheTTL:     v.GetDuration("SETTINGS_CACHE_TTL"),
		LockTTL:              v.GetDuration("LOCK_TTL"),
		NotifyWebhookURL:     v.GetString("NOTIFY_WEBHOOK_URL"),
		OverdueSweepEnabled:  v.GetBool("OVERDUE_SWEEP_ENABLED"),
		OverdueSweepInterval: v.GetDuration("OVERDUE_SWEEP_INTERVAL"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unusable combinations.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("config: DB_HOST and DB_NAME are required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.OverdueSweepEnabled && c.OverdueSweepInterval <= 0 {
		return fmt.Errorf("config: OVERDUE_SWEEP_INTERVAL must be positive")
	}
	return nil
}
