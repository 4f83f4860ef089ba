package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ceer-lab/ceer/internal/app/migrate"
	"github.com/ceer-lab/ceer/internal/app/seed"
	httpx "github.com/ceer-lab/ceer/internal/http"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/internal/repository/memory"
	"github.com/ceer-lab/ceer/internal/repository/postgres"
	"github.com/ceer-lab/ceer/internal/service/auth"
	"github.com/ceer-lab/ceer/internal/service/bom"
	"github.com/ceer-lab/ceer/internal/service/notify"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
	"github.com/ceer-lab/ceer/internal/ws"
	"github.com/ceer-lab/ceer/pkg/config"
	"github.com/ceer-lab/ceer/pkg/logger"
)

type store interface {
	repository.UserRepository
	repository.TeamRepository
	repository.BOMRepository
}

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo, dbHealth, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := ws.NewHub(log)
	defer hub.Close()

	sinks, closeSinks, err := buildSinks(cfg, hub, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher := notify.NewDispatcher(sinks, notify.Options{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryBase:  cfg.Notify.RetryBase,
	}, registry, log)
	// Runs before closeSinks so queued notifications drain into open sinks.
	defer dispatcher.Close()

	userSvc := user.New(repo, log)
	teamSvc := team.New(repo, repo, log)
	services := httpx.Services{
		Auth:  auth.New(repo, log, cfg),
		Users: userSvc,
		Teams: teamSvc,
		BOMs:  bom.New(repo, repo, repo, dispatcher, log),
	}

	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		file, err := seed.LoadFile(path)
		if err != nil {
			return err
		}
		if _, err := seed.New(userSvc, teamSvc, repo, log).Apply(ctx, file); err != nil {
			return err
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, services, hub, limiter, registry, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Live streams never finish on their own; closing the hub ends them so Shutdown can return.
	srv.RegisterOnShutdown(hub.Close)

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "sinks", len(sinks))
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		runner, err := migrate.New(pool, log)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("configure migrations: %w", err)
		}
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		repo := postgres.New(pool)
		return repo, repo.Ping, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

var newKafkaPublisher = notify.NewKafkaPublisher

func buildSinks(cfg config.APIConfig, hub *ws.Hub, log *slog.Logger) ([]notify.Sink, func(), error) {
	sinks := []notify.Sink{{Name: "log", Notifier: notify.NewLogSink(log)}}
	closers := make([]func(), 0, 1)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if host := strings.TrimSpace(cfg.SMTP.Host); host != "" {
		mailer, err := notify.NewMailer(cfg.SMTP)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, notify.Sink{Name: "email", Notifier: mailer})
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		publisher := newKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				log.Warn("kafka publisher close failed", "error", err)
			}
		})
		sinks = append(sinks, notify.Sink{Name: "kafka", Notifier: publisher})
	}
	if endpoint := strings.TrimSpace(cfg.Notify.WebhookURL); endpoint != "" {
		hook, err := notify.NewWebhookSink(endpoint, cfg.Notify.WebhookSecret)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, notify.Sink{Name: "webhook", Notifier: hook})
	}
	if cfg.Notify.StreamEnabled {
		sinks = append(sinks, notify.Sink{Name: "stream", Notifier: notify.NewStreamSink(hub)})
	}
	return sinks, closeAll, nil
}
