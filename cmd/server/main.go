package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"zenmgt/internal/approval"
	"zenmgt/internal/events"
	"zenmgt/internal/platform/config"
	"zenmgt/internal/platform/database"
	"zenmgt/internal/platform/httpserver"
	"zenmgt/internal/platform/logger"
	"zenmgt/internal/platform/metrics"
	platformredis "zenmgt/internal/platform/redis"
	httptransport "zenmgt/internal/transport/http"
	"zenmgt/internal/user"
	"zenmgt/pkg/platform/tx"
	"zenmgt/pkg/snowflake"
)

// main wires dependencies and runs the operational HTTP server plus the
// outbox relay until a termination signal arrives.
func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ids, err := snowflake.New(cfg.Snowflake.WorkerID)
	if err != nil {
		return err
	}
	chain, err := approval.NewChain(cfg.Approval.CheckerLevels)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	runner := tx.NewSQLRunner(db)
	approvalStore := approval.NewPostgresStore(db)
	approvalService := approval.NewService(approvalStore, ids, chain, runner, log, m)

	var cache *user.DetailCache
	if redisClient != nil {
		cache = user.NewDetailCache(redisClient.Client, cfg.Redis.DetailTTL, log, m)
	}

	userStore := user.NewPostgresStore(db)
	approvalService.Register(approval.ReferenceAuthUser, user.NewApprovalTarget(userStore))
	userService := user.NewService(userStore, approvalService, ids, runner, cache, nil, log, m)

	checks := map[string]httptransport.HealthChecker{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	pending := func(ctx context.Context) (int, error) {
		requests, err := userService.ListPendingApprovals(ctx)
		if err != nil {
			return 0, err
		}
		return len(requests), nil
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(registry, checks, pending))

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return err
		}
		defer publisher.Close()

		relay := events.NewRelay(db, publisher, cfg.Kafka.Topic, cfg.Outbox.PollInterval, log, m)
		group.Go(func() error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
