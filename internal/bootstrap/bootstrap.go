// Package bootstrap holds the startup wiring shared by the api and scheduler
// binaries: store selection, startup retries, the reconciliation lock and
// outbound broker publishers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	directoryrepo "leadflow_backend/internal/directory/repository"
	"leadflow_backend/internal/executives"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/outbound"
	"leadflow_backend/internal/scheduler"
	visitorrepo "leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/broker"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/redislock"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreConfig is what OpenStores needs from the configuration.
type StoreConfig interface {
	config.DatabaseConfig
	config.StoreConfig
}

// Stores bundles the persistence backends for one process.
type Stores struct {
	Visitors   visitorrepo.Store
	Directory  directoryrepo.Repository
	Executives executives.Provider
	// Health is nil on the memory driver.
	Health apphttp.HealthChecker

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// OpenStores selects memory or Postgres stores. On Postgres it applies
// pending migrations before connecting the pool.
func OpenStores(ctx context.Context, cfg StoreConfig, log *logger.Logger) (*Stores, error) {
	if cfg.UsesMemoryStore() {
		execs := executives.NewMemory()
		if path := cfg.GetExecutivesSeedFile(); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read executives seed: %w", err)
			}
			if execs, err = executives.LoadSeed(data); err != nil {
				return nil, err
			}
		}
		log.Warn("using in-memory stores; data is lost on restart")
		return &Stores{
			Visitors:   visitorrepo.NewMemoryStore(),
			Directory:  directoryrepo.NewMemory(),
			Executives: execs,
		}, nil
	}

	if err := WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		return nil, fmt.Errorf("run database migrations: %w", err)
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("database connection established")

	return &Stores{
		Visitors:   visitorrepo.New(pool),
		Directory:  directoryrepo.New(pool),
		Executives: executives.NewRepository(pool),
		Health:     db.NewPoolAdapter(pool),
		pool:       pool,
	}, nil
}

// LockConfig is what NewPassLock needs from the configuration.
type LockConfig interface {
	config.SchedulerConfig
	config.AssignmentConfig
}

// NewPassLock returns a Redis lock that keeps reconciliation passes
// single-flight across processes. It returns a nil Locker when Redis is not
// configured.
func NewPassLock(cfg LockConfig, log *logger.Logger) (scheduler.Locker, func(), error) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; reconciliation passes are single-flight per process only")
		return nil, func() {}, nil
	}
	client, err := redislock.NewClient(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("redis client: %w", err)
	}
	lock := redislock.New(client, cfg.GetAssignmentLockKey(), cfg.GetAssignmentLockTTL())
	return lock, func() { _ = client.Close() }, nil
}

// NewForwarder builds an outbound forwarder over every configured broker.
// It returns nil when no broker is configured.
func NewForwarder(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger) (*outbound.Forwarder, error) {
	var fanout broker.Fanout
	if cfg.IsAMQPEnabled() {
		var rabbit *broker.RabbitPublisher
		if err := WithRetry(ctx, log, "rabbitmq connection", 5, 2*time.Second, func() error {
			p, err := broker.NewRabbitPublisher(cfg.GetAMQPURL(), cfg.GetAMQPExchange(), log)
			if err != nil {
				return err
			}
			rabbit = p
			return nil
		}); err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		fanout = append(fanout, rabbit)
		log.Info("outbound rabbitmq publisher ready", "exchange", cfg.GetAMQPExchange())
	}
	if cfg.IsKafkaEnabled() {
		fanout = append(fanout, broker.NewKafkaPublisher(cfg.GetKafkaBrokers(), cfg.GetKafkaTopic()))
		log.Info("outbound kafka publisher ready", "topic", cfg.GetKafkaTopic())
	}
	if len(fanout) == 0 {
		log.Info("no outbound broker configured; domain events stay in process")
		return nil, nil
	}
	return outbound.NewForwarder(fanout, log), nil
}

// WithRetry runs fn until it succeeds, backing off quadratically between
// attempts.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
