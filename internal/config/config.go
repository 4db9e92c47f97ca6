// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// EngineConfig holds game engine configuration.
type EngineConfig struct {
	TurnSeconds      int           `mapstructure:"turn_seconds"`
	TimeoutDropAfter int           `mapstructure:"timeout_drop_after"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	RakePercent      int           `mapstructure:"rake_percent"`
	LedgerSecret     string        `mapstructure:"ledger_secret"`
}

// WalletConfig holds wallet provisioning configuration.
type WalletConfig struct {
	InitialBalance int64 `mapstructure:"initial_balance"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, ENGINE_RAKE_PERCENT, ENGINE_LEDGER_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Engine.LedgerSecret == "" {
		return nil, fmt.Errorf("engine.ledger_secret must be set")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.backend", "postgres")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rummy")
	v.SetDefault("database.name", "rummy")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Engine defaults
	v.SetDefault("engine.turn_seconds", 30)
	v.SetDefault("engine.timeout_drop_after", 3)
	v.SetDefault("engine.sweep_interval", "1s")
	v.SetDefault("engine.rake_percent", 5)

	// Wallet defaults
	v.SetDefault("wallet.initial_balance", 10000)
}
