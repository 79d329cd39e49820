package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter/internal/api"
	"github.com/ignite/newsletter/internal/config"
	"github.com/ignite/newsletter/internal/email"
	"github.com/ignite/newsletter/internal/observability"
	"github.com/ignite/newsletter/internal/pkg/distlock"
	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/repository/memory"
	"github.com/ignite/newsletter/internal/repository/postgres"
	"github.com/ignite/newsletter/internal/service/subscription"
	"github.com/ignite/newsletter/internal/worker"
)

var version = "dev"

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	ln.Close()
	return nil
}

// extractHost returns the host:port part of a postgres URL so it can be
// logged without credentials.
func extractHost(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config rejected", "error", err)
		os.Exit(1)
	}
	if lvl, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using INFO", "level", cfg.Log.Level)
	}
	logger.SetRedactPII(cfg.Log.RedactPIIEnabled())
	log := logger.Default()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := checkPortAvailable(cfg.Application.Addr()); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	db, repo, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	notifier, err := newNotifier(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	redisClient, err := openRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	opts := subscription.Options{
		BaseURL:       cfg.Application.BaseURL,
		NotifyTimeout: cfg.EmailClient.Timeout(),
		Observer:      observability.Multi(observability.NewLogObserver(log), metrics),
	}
	var queue *worker.RedisResendQueue
	if cfg.Resend.Enabled && redisClient != nil {
		queue = worker.NewRedisResendQueue(redisClient)
		opts.Resend = queue
	}

	svc, err := subscription.NewService(repo, notifier, opts)
	if err != nil {
		return err
	}

	if queue != nil {
		lock, err := distlock.NewLock(redisClient, db, "resend", cfg.Resend.LockTTL())
		if err != nil {
			return err
		}
		resendWorker := worker.NewResendWorker(queue, svc, lock, worker.ResendConfig{
			Interval:    cfg.Resend.Interval(),
			BatchSize:   cfg.Resend.BatchSize,
			MaxAttempts: cfg.Resend.MaxAttempts,
			BaseBackoff: cfg.Resend.BaseBackoff(),
		}, log)
		if err := resendWorker.Start(); err != nil {
			return err
		}
		defer resendWorker.Stop()
	}

	server := api.NewServer(cfg.Application, api.Deps{
		Subscriptions:  svc,
		Health:         api.NewHealthChecker(db, redisClient, version),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         log,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Application.Addr(), "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-done:
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Application.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore opens PostgreSQL when configured and falls back to the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, subscription.Repository, error) {
	if !cfg.Enabled() {
		log.Warn("no database configured, using in-memory store")
		return nil, memory.NewSubscriptionRepo(), nil
	}

	dsn := cfg.ConnectionString()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	// The pool connects lazily, so a down database does not stop startup;
	// /health reports it instead.
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Warn("database ping failed", "host", extractHost(dsn), "error", err)
	} else {
		log.Info("database connected", "host", extractHost(dsn))
	}
	return db, postgres.NewSubscriptionRepo(db), nil
}

func newNotifier(ctx context.Context, cfg *config.Config) (subscription.Notifier, error) {
	switch cfg.EmailClient.Provider {
	case config.ProviderSES:
		sender, err := email.NewSESSender(ctx, email.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey.Expose(),
			Sender:           cfg.EmailClient.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("ses notifier: %w", err)
		}
		return sender, nil
	default:
		return email.NewAPIClient(email.APIConfig{
			BaseURL:    cfg.EmailClient.BaseURL,
			Sender:     cfg.EmailClient.Sender,
			Token:      cfg.EmailClient.AuthorizationToken,
			Timeout:    cfg.EmailClient.Timeout(),
			MaxRetries: cfg.EmailClient.MaxRetries,
		}, nil), nil
	}
}

// openRedis connects when an address is configured. A failed ping disables
// Redis rather than failing startup.
func openRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		log.Info("redis not configured, resend worker disabled")
		return nil, nil
	}

	var client *redis.Client
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Expose(),
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis connection failed, resend worker disabled", "error", err)
		client.Close()
		return nil, nil
	}
	log.Info("redis connected")
	return client, nil
}
