package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration. Values come from config.yaml (optional), then
// MENTOR_* environment variables, after .env has been loaded into the environment.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	IdP      IdPConfig      `mapstructure:"idp"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, prod
	LogLevel     string        `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables rate limiting and the upstream cache
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IdPConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	ClientID    string        `mapstructure:"client_id"`
	APIKey      string        `mapstructure:"api_key"`
	RedirectURL string        `mapstructure:"redirect_url"`
	Scopes      []string      `mapstructure:"scopes"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type UpstreamConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	CookieSecret     string        `mapstructure:"cookie_secret"`
	CookieSecure     bool          `mapstructure:"cookie_secure"`
	ValidateInterval time.Duration `mapstructure:"validate_interval"`
	PermissionsFile  string        `mapstructure:"permissions_file"`
	AdminKeyHash     string        `mapstructure:"admin_key_hash"` // bcrypt hash of the X-Admin-Key value
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_minute"`
}

type UploadConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

type JobsConfig struct {
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	PurgeTimeout  time.Duration `mapstructure:"purge_timeout"`
}

// loadConfig reads configuration from files and environment variables.
func loadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MENTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// the names the deployment already uses
	_ = v.BindEnv("database.dsn", "MENTOR_DATABASE_DSN", "DB_DSN")
	_ = v.BindEnv("database.auto_migrate", "MENTOR_DATABASE_AUTO_MIGRATE", "DB_AUTO_MIGRATE")
	_ = v.BindEnv("upload.base_dir", "MENTOR_UPLOAD_BASE_DIR", "UPLOAD_BASE")
	_ = v.BindEnv("idp.api_key", "MENTOR_IDP_API_KEY", "IDP_API_KEY")
	_ = v.BindEnv("upstream.api_key", "MENTOR_UPSTREAM_API_KEY", "DATA_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("idp.base_url", "http://localhost:9000")
	v.SetDefault("idp.client_id", "mentor-module")
	v.SetDefault("idp.redirect_url", "http://localhost:8081/auth/callback")
	v.SetDefault("idp.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("idp.timeout", "10s")

	v.SetDefault("upstream.base_url", "http://localhost:9100/api")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.cache_ttl", "30s")

	v.SetDefault("auth.cookie_secret", "dev-insecure-cookie-secret-change")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.validate_interval", "1m")
	v.SetDefault("auth.permissions_file", "")
	v.SetDefault("auth.rate_limit_per_minute", 60)

	v.SetDefault("upload.base_dir", "uploads")

	v.SetDefault("jobs.purge_interval", "15m")
	v.SetDefault("jobs.purge_timeout", "30s")
}

// isProduction reports whether the server runs with production defaults enforced.
func (c *Config) isProduction() bool {
	return c.Server.Environment == "prod" || c.Server.Environment == "production"
}

// validate rejects settings that must not reach production.
func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	if c.isProduction() && strings.HasPrefix(c.Auth.CookieSecret, "dev-insecure") {
		return errors.New("auth.cookie_secret must be set in production")
	}
	return nil
}
