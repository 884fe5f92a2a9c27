// Package config loads process configuration from an optional config.yaml
// plus environment variables. The store connection is configured entirely
// through the environment (DATABASE, DATANAME, DATAUSER, DATAPASS, DATEPORT);
// everything else has working defaults so the binary starts with no file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseConfig DatabaseConfig `mapstructure:"database"`
	RedisConfig    RedisConfig    `mapstructure:"redis"`
	VaultConfig    VaultConfig    `mapstructure:"vault"`
	ServerConfig   ServerConfig   `mapstructure:"server"`
	AuthConfig     AuthConfig     `mapstructure:"auth"`
	LoggingConfig  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// URL assembles the pgx connection string.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig holds the optional signal-feed cache settings.
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// VaultConfig holds the optional exchange-credential source settings.
// When disabled, credentials come from the exchanges table.
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	CACert    string `mapstructure:"ca_cert"`
	MountPath string `mapstructure:"mount_path"`
}

// ServerConfig holds the admin API settings. The trading process runs
// headless when the server is disabled.
type ServerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ProductionMode bool   `mapstructure:"production_mode"`
}

// AuthConfig holds JWT settings for the admin API.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"`
	TokenDurationMinutes int    `mapstructure:"token_duration_minutes"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"` // debug, info, warn, error
	JSONFormat bool   `mapstructure:"json_format"`
}

// Load reads config.yaml if present, applies environment overrides, and
// validates the result. There are no CLI flags.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "futures_trader")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 60)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.mount_path", "secret")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	v.SetDefault("auth.token_duration_minutes", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)
}

// applyEnvOverrides binds the flat store environment variables. These win
// over both file values and the dotted env forms viper resolves itself.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("DATABASE"); host != "" {
		cfg.DatabaseConfig.Host = host
	}
	if name := os.Getenv("DATANAME"); name != "" {
		cfg.DatabaseConfig.Name = name
	}
	if user := os.Getenv("DATAUSER"); user != "" {
		cfg.DatabaseConfig.User = user
	}
	if pass := os.Getenv("DATAPASS"); pass != "" {
		cfg.DatabaseConfig.Password = pass
	}
	if port := os.Getenv("DATEPORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.DatabaseConfig.Port = p
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.AuthConfig.JWTSecret = secret
	}
	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		cfg.VaultConfig.Token = token
	}
}

// Validate checks settings the process cannot run without.
func (c *Config) Validate() error {
	if c.DatabaseConfig.Host == "" {
		return fmt.Errorf("database host is required (DATABASE)")
	}
	if c.DatabaseConfig.Name == "" {
		return fmt.Errorf("database name is required (DATANAME)")
	}
	if c.DatabaseConfig.Port <= 0 || c.DatabaseConfig.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.DatabaseConfig.Port)
	}
	if c.ServerConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when the admin server is enabled")
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Address == "" {
		return fmt.Errorf("vault.address is required when vault is enabled")
	}
	return nil
}
