// Package bootstrap builds the journal, broker and relay settings shared by
// the api and worker commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jwalitptl/health-ledger/config"
	"github.com/jwalitptl/health-ledger/internal/handler"
	"github.com/jwalitptl/health-ledger/internal/ledger"
	"github.com/jwalitptl/health-ledger/internal/repository/leveldb"
	"github.com/jwalitptl/health-ledger/internal/repository/postgres"
	"github.com/jwalitptl/health-ledger/pkg/logger"
	"github.com/jwalitptl/health-ledger/pkg/messaging"
	"github.com/jwalitptl/health-ledger/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/health-ledger/pkg/messaging/redis"
	"github.com/jwalitptl/health-ledger/pkg/worker"
)

// OpenJournal opens the journal backend named by cfg.Ledger.Backend.
func OpenJournal(ctx context.Context, cfg *config.Config) (ledger.Journal, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryJournal(), nil
	case "leveldb":
		j, err := leveldb.Open(cfg.Ledger.LevelDBDir)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		j := postgres.NewJournal(postgres.NewBaseRepository(db))
		if err := j.Migrate(ctx); err != nil {
			j.Close()
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// JournalCheck reports whether the journal can still be read. Backends with a
// connection pool are pinged instead.
func JournalCheck(j ledger.Journal) handler.ReadinessCheck {
	if p, ok := j.(interface{ Ping(context.Context) error }); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, err := j.ReadFrom(ctx, 0, 1)
		return err
	}
}

// NewBroker connects to the configured broker. It returns nil when
// cfg.Broker.Kind is "none".
func NewBroker(ctx context.Context, cfg *config.Config, log *logger.Logger) (messaging.Broker, error) {
	switch cfg.Broker.Kind {
	case "none":
		return nil, nil
	case "redis":
		b, err := redis.NewRedisBroker(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "rabbitmq":
		b, err := rabbitmq.NewRabbitBroker(rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

func RelayConfig(cfg *config.Config, startSeq uint64) worker.RelayConfig {
	return worker.RelayConfig{
		Topic:         cfg.Broker.Topic,
		BatchSize:     cfg.Relay.BatchSize,
		PollInterval:  cfg.Relay.PollInterval,
		RetryAttempts: cfg.Relay.RetryAttempts,
		RetryDelay:    cfg.Relay.RetryDelay,
		StartSeq:      startSeq,
	}
}
