package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. Redis is optional; it
// only backs the idempotency fast path when enabled.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// EngineConfig holds sync engine defaults. Per-job overrides arrive with
// the start request and are clamped to the same caps.
type EngineConfig struct {
	BatchSize        int
	MaxRetries       int
	RateLimit        int // requests per minute per target system
	InterBatchDelay  time.Duration
	MaxActiveJobs    int // concurrently running jobs per tenant
	IdempotencyTTL   time.Duration
	ConflictStrategy string // auto-retry, manual, skip
	Systems          []string
	Adapters         map[string]AdapterEndpoint
}

// AdapterEndpoint points a target system at its real REST endpoint.
// Systems without an endpoint are served by the log-only adapter.
type AdapterEndpoint struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SchedulerConfig holds recurring sync scheduling settings. Disabled by
// default; when enabled a sync job is started every interval for the
// configured tenant.
type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	TenantID    string
	EntityTypes []string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Engine: EngineConfig{
			BatchSize:        v.GetInt("engine.batch_size"),
			MaxRetries:       v.GetInt("engine.max_retries"),
			RateLimit:        v.GetInt("engine.rate_limit"),
			InterBatchDelay:  v.GetDuration("engine.inter_batch_delay"),
			MaxActiveJobs:    v.GetInt("engine.max_active_jobs"),
			IdempotencyTTL:   v.GetDuration("engine.idempotency_ttl"),
			ConflictStrategy: v.GetString("engine.conflict_strategy"),
			Systems:          v.GetStringSlice("engine.systems"),
			Adapters:         loadAdapterEndpoints(v),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("scheduler.enabled"),
			Interval:    v.GetDuration("scheduler.interval"),
			TenantID:    v.GetString("scheduler.tenant_id"),
			EntityTypes: v.GetStringSlice("scheduler.entity_types"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAdapterEndpoints reads the engine.adapters.<system> blocks. Only
// systems with a base_url get an entry.
func loadAdapterEndpoints(v *viper.Viper) map[string]AdapterEndpoint {
	out := make(map[string]AdapterEndpoint)
	for system := range v.GetStringMap("engine.adapters") {
		key := "engine.adapters." + system
		baseURL := v.GetString(key + ".base_url")
		if baseURL == "" {
			continue
		}
		out[system] = AdapterEndpoint{
			BaseURL: baseURL,
			APIKey:  v.GetString(key + ".api_key"),
			Timeout: v.GetDuration(key + ".timeout"),
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "syncengine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "syncengine")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.conn_max_idle_time", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_header_bytes", 1<<20)
	v.SetDefault("http.rate_limit_enabled", true)
	v.SetDefault("http.rate_limit_requests", 100)
	v.SetDefault("http.rate_limit_window", time.Minute)
	v.SetDefault("http.trusted_proxies", []string{})

	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.rate_limit", 10)
	v.SetDefault("engine.inter_batch_delay", 2*time.Second)
	v.SetDefault("engine.max_active_jobs", 5)
	v.SetDefault("engine.idempotency_ttl", 24*time.Hour)
	v.SetDefault("engine.conflict_strategy", "auto-retry")
	v.SetDefault("engine.systems", []string{"shopify", "amazon", "quickbooks"})

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("scheduler.tenant_id", "")
	v.SetDefault("scheduler.entity_types", []string{"products", "inventory"})
}

// Validate checks configuration for invalid values
func (c *Config) Validate() error {
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Redis.Enabled && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}
	switch c.Engine.ConflictStrategy {
	case "auto-retry", "manual", "skip":
	default:
		return fmt.Errorf("invalid conflict strategy: %q", c.Engine.ConflictStrategy)
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine batch size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.MaxActiveJobs <= 0 {
		return fmt.Errorf("engine max active jobs must be positive, got %d", c.Engine.MaxActiveJobs)
	}
	for system, ep := range c.Engine.Adapters {
		if _, err := url.ParseRequestURI(ep.BaseURL); err != nil {
			return fmt.Errorf("invalid adapter base URL for system %q: %w", system, err)
		}
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
		}
		if _, err := uuid.Parse(c.Scheduler.TenantID); err != nil {
			return fmt.Errorf("invalid scheduler tenant ID: %q", c.Scheduler.TenantID)
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr returns the Redis address in host:port form
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true when running in the production environment
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
