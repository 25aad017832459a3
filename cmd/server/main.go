package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/adapter/bolt"
	"github.com/pscheid92/orderpulse/internal/adapter/httpserver"
	"github.com/pscheid92/orderpulse/internal/adapter/kafka"
	"github.com/pscheid92/orderpulse/internal/adapter/memory"
	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/adapter/nats"
	"github.com/pscheid92/orderpulse/internal/adapter/postgres"
	"github.com/pscheid92/orderpulse/internal/adapter/redis"
	"github.com/pscheid92/orderpulse/internal/app"
	"github.com/pscheid92/orderpulse/internal/dispatch"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/notify"
	"github.com/pscheid92/orderpulse/internal/platform/config"
	"github.com/pscheid92/orderpulse/internal/platform/logging"
	"github.com/pscheid92/orderpulse/internal/platform/version"
	"github.com/pscheid92/orderpulse/internal/tracking"
)

type backingStore interface {
	domain.PartitionStore
	Ping(ctx context.Context) error
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// lazyRedis connects on first use so the store and the stream sink share
// one client.
type lazyRedis struct {
	cfg    *config.Config
	m      *metrics.StoreMetrics
	client *goredis.Client
}

func (l *lazyRedis) get(ctx context.Context) *goredis.Client {
	if l.client != nil {
		return l.client
	}
	client, err := redis.NewClient(ctx, l.cfg.RedisURL, l.m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	l.client = client
	return client
}

func (l *lazyRedis) close() {
	if l.client != nil {
		_ = l.client.Close()
	}
}

func setupStore(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics, rdb *lazyRedis) (backingStore, func()) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		return redis.NewStore(rdb.get(ctx)), func() {}

	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, m)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := postgres.RunMigrationsWithLock(connectCtx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		return postgres.NewStore(pool), pool.Close

	case config.StoreBolt:
		store, err := bolt.Open(cfg.BoltPath, m)
		if err != nil {
			slog.Error("Failed to open bolt database", "path", cfg.BoltPath, "error", err)
			os.Exit(1)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close bolt database", "error", err)
			}
		}

	default:
		slog.Warn("Using in-memory store, state is lost on restart")
		return memory.NewStore(), func() {}
	}
}

func setupSink(ctx context.Context, cfg *config.Config, m *metrics.DispatchMetrics, rdb *lazyRedis) dispatch.Sink {
	switch cfg.DispatchDriver {
	case config.DispatchKafka:
		return kafka.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic, m)

	case config.DispatchRedis:
		return redis.NewStreamSink(rdb.get(ctx), cfg.DispatchStream)

	case config.DispatchNATS:
		sink, err := nats.NewSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		return sink

	default:
		return dispatch.LogSink{}
	}
}

func runGracefulShutdown(srv *httpserver.Server, appSvc *app.Service, bridge *dispatch.Bridge) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Partitions first: their final transitions still go to the bridge.
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		if err := appSvc.Stop(stopCtx); err != nil {
			slog.Error("Actor shutdown error", "error", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelDrain()
		if err := bridge.Close(drainCtx); err != nil {
			slog.Error("Dispatch shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	inst := metrics.NewSet()
	ctx := context.Background()

	rdb := &lazyRedis{cfg: cfg, m: inst.Store}
	defer rdb.close()

	store, closeStore := setupStore(ctx, cfg, inst.Store, rdb)
	defer closeStore()
	slog.Info("Partition store ready", "driver", cfg.StoreDriver)

	sink := setupSink(ctx, cfg, inst.Dispatch, rdb)
	bridge := dispatch.NewBridge(sink, dispatch.Options{
		Buffer:  cfg.DispatchBuffer,
		Metrics: inst.Dispatch,
	})
	slog.Info("Dispatch bridge ready", "driver", cfg.DispatchDriver)

	orders := actor.NewRuntime(store, tracking.NewFactory(tracking.Options{
		Dispatcher:  bridge,
		Clock:       clock,
		IdleTimeout: cfg.SessionIdleTimeout,
		Metrics:     inst.WebSocket,
	}), actor.Options{
		Kind:           "orders",
		MailboxSize:    cfg.MailboxSize,
		StoreTimeout:   cfg.StoreTimeout,
		SweepInterval:  cfg.SweepInterval,
		PassivateAfter: cfg.ActorPassivateAfter,
		Clock:          clock,
		Metrics:        inst.Actors,
	})

	notifications := actor.NewRuntime(store, notify.NewFactory(notify.Options{
		Clock:       clock,
		IdleTimeout: cfg.SessionIdleTimeout,
		Retention:   cfg.NotificationRetention,
		Metrics:     inst.WebSocket,
	}), actor.Options{
		Kind:           "notifications",
		MailboxSize:    cfg.MailboxSize,
		StoreTimeout:   cfg.StoreTimeout,
		SweepInterval:  cfg.SweepInterval,
		PassivateAfter: cfg.ActorPassivateAfter,
		Clock:          clock,
		Metrics:        inst.Actors,
	})

	appSvc := app.NewService(orders, notifications)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		App: appSvc,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "store", Check: store.Ping},
			{Name: "dispatch", Check: bridge.Ping},
		},
		Registry:    inst.Registry,
		HTTPMetrics: inst.HTTP,
		WSMetrics:   inst.WebSocket,
		Clock:       clock,
	})

	done := runGracefulShutdown(srv, appSvc, bridge)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
