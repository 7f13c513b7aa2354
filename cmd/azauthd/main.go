package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/credentials/postgres"
	"github.com/azora-os/azauth/internal/config"
	"github.com/azora-os/azauth/internal/httpapi"
	"github.com/azora-os/azauth/internal/logging"
	"github.com/azora-os/azauth/internal/sweeper"
	promexport "github.com/azora-os/azauth/metrics/export/prometheus"
	"github.com/azora-os/azauth/notify"
)

func main() {
	configPath := flag.String("config", os.Getenv("AZAUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "azauthd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.App.Environment, cfg.App.LogLevel, cfg.App.Name)
	defer func() { _ = log.Sync() }()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("connected to postgres")

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	var sender notify.Sender = notify.NewLogSender(log.Named("mail"))
	if cfg.AMQP.URL != "" {
		conn, ch, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.RoutingKey)
		if err != nil {
			return err
		}
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()
		sender = notify.NewAMQPSender(ch, notify.AMQPConfig{
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
			AppID:      cfg.App.Name,
		})
		log.Info("publishing mail jobs over amqp", zap.String("routing_key", cfg.AMQP.RoutingKey))
	}

	engine, err := azauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(postgres.New(pool)).
		WithEmailSender(sender).
		WithLogger(log).
		WithAuditSink(azauth.NewZapAuditSink(log.Named("audit"))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	sw := sweeper.New(engine, sweeper.Config{Interval: cfg.Sweeper.Interval}, log)
	if cfg.Sweeper.Interval > 0 {
		if err := sw.Start(ctx); err != nil {
			return err
		}
		defer sw.Stop()
	}

	metrics, err := promexport.Handler(engine)
	if err != nil {
		return fmt.Errorf("metrics handler: %w", err)
	}

	if cfg.App.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(engine, metrics, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
