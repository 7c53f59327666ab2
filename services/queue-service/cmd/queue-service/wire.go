package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/barberqueue/libs/config"
	"github.com/md-rashed-zaman/barberqueue/libs/db"
	"github.com/md-rashed-zaman/barberqueue/libs/httpx"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/inbox"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/notify"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/realtime"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/migrations"
)

func loadCatalog() (storage.Catalog, error) {
	path := config.String("SCHEDULE_CONFIG_FILE", "")
	if path == "" {
		var c storage.Catalog
		c.Schedule = c.Schedule.Defaults()
		return c, nil
	}
	return storage.LoadCatalog(path)
}

// openStore picks the driver from STORE_DRIVER. The pool is nil for the
// memory driver.
func openStore(ctx context.Context, logger *slog.Logger, catalog storage.Catalog) (storage.Store, *db.Pool, error) {
	switch driver := strings.ToLower(config.String("STORE_DRIVER", "memory")); driver {
	case "memory":
		logger.Warn("using in-memory store; appointments are lost on restart")
		return storage.NewMemoryStore(catalog), nil, nil
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, nil, err
		}
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			return nil, nil, fmt.Errorf("db connection failed: %w", err)
		}
		migrate, err := config.Bool("MIGRATE", false)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if migrate {
			scripts, err := migrations.Scripts()
			if err == nil {
				err = pool.Migrate(ctx, scripts...)
			}
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "count", len(scripts))
		}
		store := storage.NewPostgresStore(pool, logger, catalog.Schedule)
		if config.String("SCHEDULE_CONFIG_FILE", "") != "" {
			if err := store.Seed(ctx, catalog); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return store, pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
}

func openRedis() *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
}

func newLedger(rdb *redis.Client) (realtime.Ledger, error) {
	if rdb == nil {
		return realtime.NewMemoryLedger(), nil
	}
	ttl, err := config.Duration("NOTIFY_LEDGER_TTL", 48*time.Hour)
	if err != nil {
		return nil, err
	}
	return realtime.NewRedisLedger(rdb, ttl, config.String("NOTIFY_LEDGER_PREFIX", "")), nil
}

func newInbox(pool *db.Pool) inbox.Inbox {
	if pool == nil {
		return inbox.NewMemoryInbox()
	}
	return inbox.NewPostgresInbox(pool)
}

// newTransports always logs notifications and adds every sink that is
// configured. The returned func closes the long-lived ones.
func newTransports(logger *slog.Logger, brokers []string) (notify.Transport, func()) {
	sinks := notify.Multi{notify.LogTransport{Logger: logger}}
	var closers []func() error

	if url := config.String("PUSH_WEBHOOK_URL", ""); url != "" {
		sinks = append(sinks, notify.NewWebhookTransport(url, config.String("PUSH_WEBHOOK_TOKEN", "")))
	}
	if len(brokers) > 0 {
		k := notify.NewKafkaTransport(brokers, config.String("KAFKA_NOTIFY_TOPIC", notify.TopicNotifications))
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
	}
	if to := config.List("NOTIFY_EMAIL_TO"); len(to) > 0 {
		sinks = append(sinks, notify.NewEmailTransport(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
			to,
		))
	}
	if url := config.String("AMQP_URL", ""); url != "" {
		a := notify.NewAMQPTransport(url, config.String("AMQP_NOTIFY_QUEUE", notify.QueueNotifications))
		sinks = append(sinks, a)
		closers = append(closers, a.Close)
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("notification transport close failed", "err", err)
			}
		}
	}
}

// newLimiter guards booking writes. The Redis limiter fails open.
func newLimiter(rdb *redis.Client) (httpx.Limiter, bool, error) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, false, err
	}
	if rdb == nil {
		return httpx.NewMemoryLimiter(limit, time.Minute), false, nil
	}
	return httpx.NewRedisLimiter(rdb, limit, time.Minute, "queue:rl"), true, nil
}
