package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/newsletter/internal/pkg/secret"
)

// Config holds all configuration for the application
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Database    DatabaseConfig    `yaml:"database"`
	EmailClient EmailClientConfig `yaml:"email_client"`
	SES         SESConfig         `yaml:"ses"`
	Redis       RedisConfig       `yaml:"redis"`
	Resend      ResendConfig      `yaml:"resend"`
	Log         LogConfig         `yaml:"log"`
}

// ApplicationConfig holds HTTP server configuration. BaseURL is the public
// address used in confirmation links.
type ApplicationConfig struct {
	Port                   int      `yaml:"port"`
	Host                   string   `yaml:"host"`
	BaseURL                string   `yaml:"base_url"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
}

// GetHost returns the listen host, with container detection.
func (c ApplicationConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("APP_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ApplicationConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ApplicationConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL settings. URL, when set, wins over the
// individual fields. An empty config means no database: the server falls
// back to the in-memory store.
type DatabaseConfig struct {
	URL                    secret.Value `yaml:"url"`
	Username               string       `yaml:"username"`
	Password               secret.Value `yaml:"password"`
	Host                   string       `yaml:"host"`
	Port                   int          `yaml:"port"`
	Name                   string       `yaml:"name"`
	RequireSSL             bool         `yaml:"require_ssl"`
	MaxOpenConns           int          `yaml:"max_open_conns"`
	MaxIdleConns           int          `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int          `yaml:"conn_max_lifetime_seconds"`
}

// Enabled reports whether enough is configured to open a connection.
func (c DatabaseConfig) Enabled() bool {
	return !c.URL.IsZero() || c.Host != ""
}

// ConnectionString returns a postgres:// URL including the database name.
func (c DatabaseConfig) ConnectionString() string {
	if !c.URL.IsZero() {
		return c.URL.Expose()
	}
	u := c.baseURL()
	u.Path = "/" + c.Name
	return u.String()
}

// ConnectionStringNoDB omits the database name, for creating the database
// itself.
func (c DatabaseConfig) ConnectionStringNoDB() string {
	if !c.URL.IsZero() {
		u, err := url.Parse(c.URL.Expose())
		if err != nil {
			return c.URL.Expose()
		}
		u.Path = ""
		return u.String()
	}
	return c.baseURL().String()
}

func (c DatabaseConfig) baseURL() *url.URL {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password.Expose()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	if c.RequireSSL {
		u.RawQuery = "sslmode=require"
	} else {
		u.RawQuery = "sslmode=disable"
	}
	return u
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// Email providers.
const (
	ProviderAPI = "api"
	ProviderSES = "ses"
)

// EmailClientConfig selects and configures the confirmation notifier.
type EmailClientConfig struct {
	Provider            string       `yaml:"provider"`
	BaseURL             string       `yaml:"base_url"`
	Sender              string       `yaml:"sender"`
	AuthorizationToken  secret.Value `yaml:"authorization_token"`
	TimeoutMilliseconds int          `yaml:"timeout_milliseconds"`
	MaxRetries          int          `yaml:"max_retries"`
}

func (c EmailClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMilliseconds) * time.Millisecond
}

// SESConfig holds AWS SES v2 settings for the ses provider. Empty keys use
// the default credential chain.
type SESConfig struct {
	Region           string       `yaml:"region"`
	AccessKey        string       `yaml:"access_key"`
	SecretKey        secret.Value `yaml:"secret_key"`
	ConfigurationSet string       `yaml:"configuration_set"`
}

// RedisConfig enables the resend queue and the Redis lock backend.
type RedisConfig struct {
	Addr     string       `yaml:"addr"`
	Password secret.Value `yaml:"password"`
	DB       int          `yaml:"db"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// ResendConfig tunes the background confirmation resend worker.
type ResendConfig struct {
	Enabled            bool `yaml:"enabled"`
	IntervalSeconds    int  `yaml:"interval_seconds"`
	BatchSize          int  `yaml:"batch_size"`
	MaxAttempts        int  `yaml:"max_attempts"`
	BaseBackoffSeconds int  `yaml:"base_backoff_seconds"`
	LockTTLSeconds     int  `yaml:"lock_ttl_seconds"`
}

func (c ResendConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c ResendConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}

func (c ResendConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LogConfig controls the JSON logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// RedactPIIEnabled defaults to true when unset.
func (c LogConfig) RedactPIIEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads a YAML file and applies defaults. A missing file is not an
// error: defaults and environment overrides alone are a valid setup.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Application.Port == 0 {
		cfg.Application.Port = 8000
	}
	if cfg.Application.Host == "" {
		cfg.Application.Host = "127.0.0.1"
	}
	if cfg.Application.BaseURL == "" {
		cfg.Application.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Application.Host, cfg.Application.Port)
	}
	if cfg.Application.ShutdownTimeoutSeconds == 0 {
		cfg.Application.ShutdownTimeoutSeconds = 15
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "newsletter"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeSeconds == 0 {
		cfg.Database.ConnMaxLifetimeSeconds = 300
	}
	if cfg.EmailClient.Provider == "" {
		cfg.EmailClient.Provider = ProviderAPI
	}
	if cfg.EmailClient.TimeoutMilliseconds == 0 {
		cfg.EmailClient.TimeoutMilliseconds = 10000
	}
	if cfg.EmailClient.MaxRetries == 0 {
		cfg.EmailClient.MaxRetries = 2
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Resend.IntervalSeconds == 0 {
		cfg.Resend.IntervalSeconds = 30
	}
	if cfg.Resend.BatchSize == 0 {
		cfg.Resend.BatchSize = 50
	}
	if cfg.Resend.MaxAttempts == 0 {
		cfg.Resend.MaxAttempts = 5
	}
	if cfg.Resend.BaseBackoffSeconds == 0 {
		cfg.Resend.BaseBackoffSeconds = 60
	}
	if cfg.Resend.LockTTLSeconds == 0 {
		cfg.Resend.LockTTLSeconds = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads .env (if present), then the YAML file, then applies
// environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_PORT: %w", err)
		}
		cfg.Application.Port = port
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.Application.BaseURL = v
	}
	if v := os.Getenv("APP_ALLOWED_ORIGINS"); v != "" {
		cfg.Application.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = secret.New(v)
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = secret.New(v)
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("EMAIL_CLIENT_PROVIDER"); v != "" {
		cfg.EmailClient.Provider = v
	}
	if v := os.Getenv("EMAIL_CLIENT_BASE_URL"); v != "" {
		cfg.EmailClient.BaseURL = v
	}
	if v := os.Getenv("EMAIL_CLIENT_SENDER"); v != "" {
		cfg.EmailClient.Sender = v
	}
	if v := os.Getenv("EMAIL_CLIENT_AUTHORIZATION_TOKEN"); v != "" {
		cfg.EmailClient.AuthorizationToken = secret.New(v)
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = secret.New(v)
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = secret.New(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate checks cross-field requirements that defaults cannot fill.
func (c *Config) Validate() error {
	var problems []string
	if _, err := url.ParseRequestURI(c.Application.BaseURL); err != nil {
		problems = append(problems, "application.base_url must be an absolute URL")
	}
	switch c.EmailClient.Provider {
	case ProviderAPI:
		if c.EmailClient.BaseURL == "" {
			problems = append(problems, "email_client.base_url is required for the api provider")
		}
	case ProviderSES:
	default:
		problems = append(problems, fmt.Sprintf("email_client.provider %q is not one of api, ses", c.EmailClient.Provider))
	}
	if c.EmailClient.Sender == "" {
		problems = append(problems, "email_client.sender is required")
	}
	if c.Resend.Enabled && !c.Redis.Enabled() {
		problems = append(problems, "resend.enabled requires redis.addr")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
