package config

import (
	"fmt"
	"time"

	"github.com/mlodash/autoflow/analytics"
	"github.com/mlodash/autoflow/logger"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

type Config struct {
	HttpPort        int
	StorageType     StorageType
	RedisConfig     RedisStorageConfig
	PostgresConfig  PostgresConfig
	RateLimitConfig RateLimitConfig
	WebhookConfig   WebhookConfig
	EngineConfig    EngineConfig
	DefinitionsFile string
	OperatorTokens  []string
	LogConfig       logger.Config
	AnalyticsConfig analytics.DataCollectorConfig
	MetricsPeriod   time.Duration
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type PostgresConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Limit         int
	Window        time.Duration
	RecheckInterval time.Duration
}

type WebhookConfig struct {
	Secret          string
	WorkflowSecrets map[string]string
	MaxSkew         time.Duration
	MaxBodyBytes    int64
}

type EngineConfig struct {
	Workers        int
	QueueSize      int
	SweepInterval  time.Duration
	RecoverRunning bool
}

// SharedRedis reports whether a Redis endpoint is configured. The rate
// limiter shares its counters through it regardless of the storage type.
func (c Config) SharedRedis() bool {
	for _, addr := range c.RedisConfig.Addrs {
		if addr != "" {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_INMEM:
	case STORAGE_TYPE_REDIS:
		if !c.SharedRedis() {
			return fmt.Errorf("redis storage requires redis-addr")
		}
	case STORAGE_TYPE_POSTGRES:
		if c.PostgresConfig.DSN == "" {
			return fmt.Errorf("postgres storage requires postgres-dsn")
		}
	default:
		return fmt.Errorf("unknown storage implementation %q", c.StorageType)
	}
	if c.HttpPort <= 0 || c.HttpPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	if c.WebhookConfig.Secret == "" && len(c.WebhookConfig.WorkflowSecrets) == 0 {
		return fmt.Errorf("a webhook secret is required")
	}
	if c.RateLimitConfig.Limit < 0 || c.RateLimitConfig.Window < 0 {
		return fmt.Errorf("rate limit and window should not be negative")
	}
	if c.WebhookConfig.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes should not be negative")
	}
	return nil
}
