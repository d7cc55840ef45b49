// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// StoreConfig selects the persistence backend for visitors, directory and executives.
type StoreConfig interface {
	GetStoreDriver() string
	UsesMemoryStore() bool
	GetExecutivesSeedFile() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides the Redis and asynq settings shared by the
// task client and the worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// AssignmentConfig provides settings for the reconciliation loop.
type AssignmentConfig interface {
	GetAssignmentInterval() time.Duration
	GetAssignmentBatchSize() int
	GetAssignmentMaxPerPass() int
	GetAssignmentLockTTL() time.Duration
	GetAssignmentLockKey() string
	IsSchedulerEmbedded() bool
}

// BrokerConfig provides settings for outbound event forwarding.
type BrokerConfig interface {
	GetAMQPURL() string
	GetAMQPExchange() string
	GetKafkaBrokers() []string
	GetKafkaTopic() string
	IsAMQPEnabled() bool
	IsKafkaEnabled() bool
}

// PipelineConfig provides pipeline comparison settings.
type PipelineConfig interface {
	GetUnqualifiedPolicy() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	StoreDriver         string
	ExecutivesSeedFile  string
	JWTAccessSecret     string
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	RedisURL            string
	RedisTLSInsecure    bool
	AsynqQueueName      string
	AsynqConcurrency    int
	AssignmentInterval  time.Duration
	AssignmentBatchSize int
	AssignmentMaxPass   int
	AssignmentLockTTL   time.Duration
	AssignmentLockKey   string
	SchedulerEmbedded   bool
	AMQPURL             string
	AMQPExchange        string
	KafkaBrokers        []string
	KafkaTopic          string
	UnqualifiedPolicy   string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// StoreConfig implementation
func (c *Config) GetStoreDriver() string        { return c.StoreDriver }
func (c *Config) UsesMemoryStore() bool         { return c.StoreDriver == "memory" }
func (c *Config) GetExecutivesSeedFile() string { return c.ExecutivesSeedFile }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// AssignmentConfig implementation
func (c *Config) GetAssignmentInterval() time.Duration { return c.AssignmentInterval }
func (c *Config) GetAssignmentBatchSize() int          { return c.AssignmentBatchSize }
func (c *Config) GetAssignmentMaxPerPass() int         { return c.AssignmentMaxPass }
func (c *Config) GetAssignmentLockTTL() time.Duration  { return c.AssignmentLockTTL }
func (c *Config) GetAssignmentLockKey() string         { return c.AssignmentLockKey }
func (c *Config) IsSchedulerEmbedded() bool            { return c.SchedulerEmbedded }

// BrokerConfig implementation
func (c *Config) GetAMQPURL() string        { return c.AMQPURL }
func (c *Config) GetAMQPExchange() string   { return c.AMQPExchange }
func (c *Config) GetKafkaBrokers() []string { return c.KafkaBrokers }
func (c *Config) GetKafkaTopic() string     { return c.KafkaTopic }
func (c *Config) IsAMQPEnabled() bool       { return c.AMQPURL != "" }
func (c *Config) IsKafkaEnabled() bool      { return len(c.KafkaBrokers) > 0 && c.KafkaTopic != "" }

// PipelineConfig implementation
func (c *Config) GetUnqualifiedPolicy() string { return c.UnqualifiedPolicy }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		ExecutivesSeedFile:  getEnv("EXECUTIVES_SEED_FILE", ""),
		JWTAccessSecret:     getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		AssignmentInterval:  mustDuration(getEnv("ASSIGNMENT_INTERVAL", "1m")),
		AssignmentBatchSize: mustInt(getEnv("ASSIGNMENT_BATCH_SIZE", "500")),
		AssignmentMaxPass:   mustInt(getEnv("ASSIGNMENT_MAX_PER_PASS", "10000")),
		AssignmentLockTTL:   mustDuration(getEnv("ASSIGNMENT_LOCK_TTL", "5m")),
		AssignmentLockKey:   getEnv("ASSIGNMENT_LOCK_KEY", "leadflow:assignment:pass"),
		SchedulerEmbedded:   strings.EqualFold(getEnv("SCHEDULER_EMBEDDED", "false"), "true"),
		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "leadflow.events"),
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "leadflow.visitor-events"),
		UnqualifiedPolicy:   getEnv("PIPELINE_UNQUALIFIED_POLICY", "excluded"),
	}

	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.AssignmentInterval <= 0 {
		return nil, fmt.Errorf("ASSIGNMENT_INTERVAL must be a positive duration")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
