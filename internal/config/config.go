package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/zateckar/monitor-sub001/pkg/config"
)

// Config holds all configuration for a monitoring instance.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"PORT" envDefault:"3001"`

	// Instance identity and role
	InstanceName     string `env:"INSTANCE_NAME" envDefault:""`
	InstanceLocation string `env:"INSTANCE_LOCATION" envDefault:""`
	InstanceRole     string `env:"INSTANCE_ROLE" envDefault:""`
	PrimarySyncURL   string `env:"PRIMARY_SYNC_URL" envDefault:""`
	SharedSecret     string `env:"SHARED_SECRET" envDefault:""`
	FailoverOrder    int    `env:"FAILOVER_ORDER" envDefault:"99"`

	// Addresses peers use to reach this instance
	PublicEndpoint string `env:"PUBLIC_ENDPOINT" envDefault:""`
	SyncURL        string `env:"SYNC_URL" envDefault:""`

	// Sync plane timing
	SyncIntervalSeconds  int `env:"SYNC_INTERVAL" envDefault:"30"`
	HeartbeatIntervalMS  int `env:"HEARTBEAT_INTERVAL" envDefault:"30000"`
	ConnectionTimeoutMS  int `env:"CONNECTION_TIMEOUT" envDefault:"30000"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"monitor"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"monitor_secret"`
	PostgresDB   string `env:"MONITOR_DB_NAME" envDefault:"monitor_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Queries slower than this are logged as warnings. Zero disables it.
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis aggregate cache (optional)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Outcome retention on the primary
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"7"`

	// Tracing
	OTLPEndpoint   string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampling  float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Profiling endpoints, restricted by source CIDR. Empty disables them.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load monitor config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.SyncIntervalSeconds < 10 {
		cfg.SyncIntervalSeconds = 10
	}
	if cfg.HeartbeatIntervalMS < 30 {
		cfg.HeartbeatIntervalMS = 30
	}
	if cfg.FailoverOrder < 0 {
		return nil, fmt.Errorf("invalid failover order: %d", cfg.FailoverOrder)
	}
	if cfg.RetentionDays < 7 {
		cfg.RetentionDays = 7
	}
	cfg.PprofAllowedCIDRs = dropEmpty(cfg.PprofAllowedCIDRs)

	return cfg, nil
}

func dropEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// SyncInterval returns the endpoint refresh period for dependents.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat reporting period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// ConnectionTimeout returns the default outbound connection timeout.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMS) * time.Millisecond
}
