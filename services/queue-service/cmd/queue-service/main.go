package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/barberqueue/libs/config"
	"github.com/md-rashed-zaman/barberqueue/libs/db"
	"github.com/md-rashed-zaman/barberqueue/libs/httpx"
	"github.com/md-rashed-zaman/barberqueue/libs/kafkax"
	otelx "github.com/md-rashed-zaman/barberqueue/libs/otel"
	"github.com/md-rashed-zaman/barberqueue/libs/runtime"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/automation"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/consumer"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/handlers"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/realtime"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

const streamPath = "/api/v1/queue/stream"

func main() {
	if err := config.LoadDotEnv(config.List("DOTENV_FILES")...); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "queue-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(service)
	if err != nil {
		panic(err)
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	tick, err := config.Duration("QUEUE_TICK", time.Second)
	if err != nil {
		panic(err)
	}
	heartbeat, err := config.Duration("SSE_HEARTBEAT", 15*time.Second)
	if err != nil {
		panic(err)
	}

	catalog, err := loadCatalog()
	if err != nil {
		logger.Error("schedule config load failed", "err", err)
		panic(err)
	}

	var checks []runtime.ReadyCheck
	store, pool, err := openStore(ctx, logger, catalog)
	if err != nil {
		logger.Error("store init failed", "err", err)
		panic(err)
	}
	if pool != nil {
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	schedule, err := store.Schedule(ctx)
	if err != nil {
		logger.Error("schedule read failed", "err", err)
		panic(err)
	}

	rdb := openRedis()
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	brokers := config.List("KAFKA_BROKERS")
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	hub := realtime.NewHub()
	supervisor := automation.NewSupervisor(store, hub, logger, automation.Config{
		Tick:  tick,
		Rooms: schedule.Rooms,
	})

	ledger, err := newLedger(rdb)
	if err != nil {
		panic(err)
	}
	transport, closeTransports := newTransports(logger, brokers)
	defer closeTransports()
	reactor := realtime.NewReactor(ledger, transport, hub, logger, realtime.WithNudger(supervisor))

	svc := booking.NewService(store, logger)
	in := newInbox(pool)

	tolerance, err := config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		panic(err)
	}
	h := handlers.New(svc, reactor, hub, in, logger, handlers.Config{
		JWTSecret:              config.String("JWT_SECRET", ""),
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: tolerance,
		Heartbeat:              heartbeat,
	})

	checks = append(checks,
		runtime.ReadyCheck{Name: "change_stream", Check: reactor.Ready},
		runtime.ReadyCheck{Name: "room_loops", Check: supervisor.Ready},
	)
	mux := runtime.NewBaseMuxWithReady(checks...)
	limiter, failOpen, err := newLimiter(rdb)
	if err != nil {
		panic(err)
	}
	h.Register(mux, httpx.RateLimit(limiter, logger, failOpen))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			ExposedHeaders: []string{httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second, streamPath),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "queue")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error {
		return reactor.Run(gctx, storage.Resubscribe(gctx, store, 2*time.Second))
	})
	if len(brokers) > 0 {
		budget, err := config.Duration("KAFKA_RETRY_BUDGET", 30*time.Second)
		if err != nil {
			panic(err)
		}
		c := consumer.New(logger, in, consumer.Config{
			Brokers:     brokers,
			GroupID:     config.String("KAFKA_GROUP_ID", service),
			Topic:       config.String("KAFKA_PAYMENT_TOPIC", consumer.TopicPaymentStatus),
			RetryBudget: budget,
		}, consumer.PaymentHandler(svc, logger))
		g.Go(func() error {
			c.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr, "rooms", schedule.Rooms)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("queue service stopped", "err", err)
		return
	}
	logger.Info("queue service stopped")
}
