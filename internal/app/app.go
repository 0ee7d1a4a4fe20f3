package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store-backoffice/internal/domain/activity"
	"github.com/xenking/store-backoffice/internal/domain/order"
	"github.com/xenking/store-backoffice/internal/handler"
	"github.com/xenking/store-backoffice/internal/notify"
	"github.com/xenking/store-backoffice/internal/repository"
	"github.com/xenking/store-backoffice/pkg/health"
	"github.com/xenking/store-backoffice/pkg/httpmiddleware"
)

const serviceName = "store-api"

// Run creates all dependencies, starts the HTTP server and the activity log
// writer, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New(health.WithThresholds(cfg.Health.FailureThreshold, cfg.Health.SuccessThreshold))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(cfg.Health.MaxGoroutines))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(cfg.Health.MaxGCPause))
	healthSvc.Start(ctx, cfg.Health.Interval)
	healthSvc.SetReady(true)

	// Activity log and order events are written after commit.
	activityQueue := activity.NewQueue(repository.NewActivityRepository(pool), cfg.Activity.QueueSize)

	var notifier order.Notifier = notify.Log{}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Named("kafka"))
		if err != nil {
			return errors.Wrap(err, "create kafka publisher")
		}
		defer func() {
			if err := k.Close(); err != nil {
				lg.Error("Close kafka publisher", zap.Error(err))
			}
		}()
		notifier = k
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	orderService, err := order.NewService(
		repository.NewUnitOfWork(pool, cfg.Orders.LockTimeout),
		activityQueue,
		notifier,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithInvoiceSeries(cfg.Orders.InvoiceSeries),
		order.WithTransitionPolicy(order.TransitionPolicy{Permissive: !cfg.Orders.StrictStatus}),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	security := handler.NewSecurityHandler(repository.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))
	readLimit := httpmiddleware.NewLimiter(cfg.RateLimit.ReadRate, cfg.RateLimit.ReadBurst, handler.ActorKey)
	writeLimit := httpmiddleware.NewLimiter(cfg.RateLimit.WriteRate, cfg.RateLimit.WriteBurst, handler.ActorKey)
	router := handler.NewHandler(orderService, security,
		handler.WithRateLimit(handler.ScopeRead, readLimit),
		handler.WithRateLimit(handler.ScopeWrite, writeLimit),
	).Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		),
	}

	r := &runner{
		lg:              lg,
		server:          server,
		health:          healthSvc,
		readinessDelay:  cfg.Graceful.ReadinessDelay,
		shutdownTimeout: cfg.Graceful.ShutdownTimeout,
		workers: []func(ctx context.Context) error{
			func(ctx context.Context) error { return readLimit.Run(ctx, cfg.RateLimit.Sweep) },
			func(ctx context.Context) error { return writeLimit.Run(ctx, cfg.RateLimit.Sweep) },
		},
		drainers: []func(ctx context.Context) error{activityQueue.Run},
	}
	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	return r.run(ctx, server.ListenAndServe)
}
