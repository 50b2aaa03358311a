package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/fleet"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	gw, closeStore, err := storage.Open(ctx, cfg.Store.Options())
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", "backend", cfg.Store.Backend, "migrations", cfg.Store.RunMigrations)

	pool := fleet.NewRegistry(gw)
	wsreg := dispatch.NewWSRegistry()
	svc := matcher.NewService(cfg.Pricing)
	if cfg.NotifyWebhookURL != "" {
		svc.Notify = &dispatch.Fallback{Primary: wsreg, Secondary: dispatch.NewWebhookNotifier(cfg.NotifyWebhookURL)}
	} else {
		svc.Notify = wsreg
	}

	consumerDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaMatchTopic)
		defer pub.Close()
		svc.Events = pub

		consumer := events.NewCompletionConsumer(cfg.KafkaBrokers, cfg.KafkaCompletionTopic, cfg.KafkaGroup,
			events.PoolReleaser{Service: svc, Pool: pool}, logger)
		go func() {
			defer close(consumerDone)
			defer consumer.Close()
			_ = consumer.Run(ctx)
		}()
		logger.Info("kafka enabled", "brokers", cfg.KafkaBrokers, "match_topic", cfg.KafkaMatchTopic, "completion_topic", cfg.KafkaCompletionTopic)
	} else {
		close(consumerDone)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.New(pool, svc, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-consumerDone
	return err
}
