// Package config loads RelayCore's configuration from file, environment,
// and defaults using viper, mirroring the layered config the gateway uses.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Steering   SteeringConfig   `mapstructure:"steering"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Providers  []ProviderEntry  `mapstructure:"providers"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// SteeringConfig points at the declarative rule file and its reload behavior.
type SteeringConfig struct {
	RulesPath  string        `mapstructure:"rules_path"`
	WatchFile  bool          `mapstructure:"watch_file"`
	ReloadWait time.Duration `mapstructure:"reload_debounce"`
}

// BudgetConfig carries the tunables from §4.5 and §9 (freshness window,
// per-scope aggregation behavior).
type BudgetConfig struct {
	StatusFreshness   time.Duration `mapstructure:"status_freshness"`
	OutboxRetryPeriod time.Duration `mapstructure:"outbox_retry_period"`
	ResetSweepCron    string        `mapstructure:"reset_sweep_cron"`
}

type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	SingleFlightWait time.Duration `mapstructure:"single_flight_wait"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

// OptimizerConfig supplies the latency reference used by the "balanced"
// strategy in §4.7.
type OptimizerConfig struct {
	DefaultStrategy  string        `mapstructure:"default_strategy"`
	LatencyReference time.Duration `mapstructure:"latency_reference"`
}

// ProviderEntry is the static seed for the Provider Registry (§3 Provider
// Profile); a richer config-reload path may replace it at runtime.
type ProviderEntry struct {
	Provider        string   `mapstructure:"provider"`
	Model           string   `mapstructure:"model"`
	APIKeyEnv       string   `mapstructure:"api_key_env"`
	BaseURL         string   `mapstructure:"base_url"`
	Capabilities    []string `mapstructure:"capabilities"`
	InputCostPerTok string   `mapstructure:"input_cost_per_token"`
	OutputCostPerTok string  `mapstructure:"output_cost_per_token"`
	Currency        string   `mapstructure:"currency"`
	AdvertisedP50Ms int64    `mapstructure:"advertised_p50_ms"`
	MaxConcurrency  int      `mapstructure:"max_concurrency"`
	Enabled         bool     `mapstructure:"enabled"`
	Fallbacks       []string `mapstructure:"fallbacks"`
}

type MonitoringConfig struct {
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

var cfg *Config

// Load reads config.yaml from the given path (or the working directory /
// /etc/relaycore), layers environment variables over it, and fills in
// defaults for anything unset.
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/relaycore")
	}

	setDefaults()

	viper.SetEnvPrefix("RELAYCORE")
	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg = &c
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")
	viper.SetDefault("server.max_concurrency", 512)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.max_connections", 50)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.conn_max_lifetime", "1h")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 50)

	viper.SetDefault("steering.rules_path", "./config/rules.yaml")
	viper.SetDefault("steering.watch_file", true)
	viper.SetDefault("steering.reload_debounce", "500ms")

	viper.SetDefault("budget.status_freshness", "5m")
	viper.SetDefault("budget.outbox_retry_period", "30s")
	viper.SetDefault("budget.reset_sweep_cron", "0 0 * * * *")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.default_ttl", "10m")
	viper.SetDefault("cache.single_flight_wait", "20s")
	viper.SetDefault("cache.key_prefix", "relaycore:cache:")

	viper.SetDefault("optimizer.default_strategy", "balanced")
	viper.SetDefault("optimizer.latency_reference", "2s")

	viper.SetDefault("monitoring.enable_metrics", true)
	viper.SetDefault("monitoring.enable_tracing", true)
	viper.SetDefault("monitoring.service_name", "relaycore")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "")
}

func bindEnvVars() {
	_ = viper.BindEnv("database.dsn", "RELAYCORE_DATABASE_DSN")
	_ = viper.BindEnv("redis.url", "RELAYCORE_REDIS_URL")
	_ = viper.BindEnv("redis.password", "RELAYCORE_REDIS_PASSWORD")
	_ = viper.BindEnv("steering.rules_path", "RELAYCORE_RULES_PATH")
	_ = viper.BindEnv("logging.level", "LOG_LEVEL")
	_ = viper.BindEnv("logging.format", "LOG_FORMAT")
	_ = viper.BindEnv("monitoring.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func Get() *Config {
	return cfg
}
