package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the front end configuration.
//
// Sources, highest precedence first: FRONTEND_* environment variables,
// the YAML file passed to Load, defaults.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	DefaultPage     string        `mapstructure:"default_page" validate:"required,startswith=/"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// DatabaseConfig selects the user directory implementation.
// "postgres" uses database/sql with lib/pq unless UseGORM is set;
// "sqlite" always uses GORM.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=postgres sqlite memory"`
	UseGORM    bool   `mapstructure:"use_gorm"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
}

type SessionConfig struct {
	Store      string        `mapstructure:"store" validate:"oneof=redis memory"`
	CookieName string        `mapstructure:"cookie_name" validate:"required"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type AuthConfig struct {
	AllowList AllowListConfig `mapstructure:"allow_list"`
	Federated FederatedConfig `mapstructure:"federated"`
	Kerberos  KerberosConfig  `mapstructure:"kerberos"`
}

type AllowListConfig struct {
	Enforce bool     `mapstructure:"enforce"`
	Users   []string `mapstructure:"users"`
}

// FederatedConfig describes the external OpenID provider.
type FederatedConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ProviderURL   string `mapstructure:"provider_url" validate:"required_if=Enabled true"`
	ClientID      string `mapstructure:"client_id" validate:"required_if=Enabled true"`
	ClientSecret  string `mapstructure:"client_secret"`
	RedirectURL   string `mapstructure:"redirect_url" validate:"required_if=Enabled true"`
	IdentityClaim string `mapstructure:"identity_claim"`
	GroupsScope   string `mapstructure:"groups_scope"`
	GroupsClaim   string `mapstructure:"groups_claim"`
}

// KerberosConfig describes the negotiate login endpoint.
// KeytabPath and ServicePrincipal are only read when Enabled is set;
// KRB5_KTNAME replaces KeytabPath when present.
type KerberosConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	EmailDomain      string `mapstructure:"email_domain" validate:"required_if=Enabled true"`
	KeytabPath       string `mapstructure:"keytab_path"`
	ServicePrincipal string `mapstructure:"service_principal"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FRONTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Auth.Federated.Enabled {
		u, err := url.Parse(cfg.Auth.Federated.ProviderURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid config: auth.federated.provider_url %q is not an absolute URL", cfg.Auth.Federated.ProviderURL)
		}
	}
	if cfg.Session.Store == "redis" && cfg.Redis.Addr == "" {
		return errors.New("invalid config: redis.addr is required for the redis session store")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.default_page", "/")
	v.SetDefault("server.secure_cookies", true)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.use_gorm", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "")

	v.SetDefault("session.store", "redis")
	v.SetDefault("session.cookie_name", "__Host-session")
	v.SetDefault("session.ttl", 24*time.Hour)

	v.SetDefault("auth.allow_list.enforce", false)
	v.SetDefault("auth.allow_list.users", []string{})

	v.SetDefault("auth.federated.enabled", true)
	v.SetDefault("auth.federated.provider_url", "")
	v.SetDefault("auth.federated.client_id", "")
	v.SetDefault("auth.federated.client_secret", "")
	v.SetDefault("auth.federated.redirect_url", "")
	v.SetDefault("auth.federated.identity_claim", "preferred_username")
	v.SetDefault("auth.federated.groups_scope", "groups")
	v.SetDefault("auth.federated.groups_claim", "groups")

	v.SetDefault("auth.kerberos.enabled", false)
	v.SetDefault("auth.kerberos.email_domain", "")
	v.SetDefault("auth.kerberos.keytab_path", "")
	v.SetDefault("auth.kerberos.service_principal", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
