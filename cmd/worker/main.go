// Package main provides the entrypoint for the flagplane worker. It audits flag
// change events from Pub/Sub and periodically checks the flag store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/config"
	"github.com/flagplane/flagplane/internal/flagstore"
	"github.com/flagplane/flagplane/internal/resilience"
	"github.com/flagplane/flagplane/internal/telemetry"
	"github.com/flagplane/flagplane/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "flagplane-worker"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run(log zerolog.Logger) error {
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting flagplane worker")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// The API owns seeding; the worker only reads.
	cfg.Store.Seed = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.NewConfig(serviceName, Version, cfg))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	store, err := flagstore.Open(ctx, cfg, resilience.NewRegistry(), log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if closeErr := store.Close(closeCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close flag store")
		}
	}()

	checkCfg := worker.DefaultCheckConfig()
	checkCfg.Concurrency = cfg.Worker.CheckConcurrency
	check := worker.NewCheckJob(worker.CheckJobConfig{
		Config:     checkCfg,
		Repository: store.Repository,
		Logger:     log,
	})
	audit := worker.NewAuditLog(log)

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: worker.NewHealthRouter(worker.HealthConfig{
			Version: Version,
			Audit:   audit,
			Check:   check,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	if cfg.Worker.CheckInterval > 0 {
		go check.Schedule(ctx, cfg.Worker.CheckInterval)
		log.Info().Dur("interval", cfg.Worker.CheckInterval).Msg("flag store check scheduled")
	}

	if cfg.PubSub.Enabled() {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Processor:        worker.NewProcessor(audit, check, log),
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := handler.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close pubsub handler")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
				errs <- err
			}
		}()
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set - change events are not consumed")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case runErr = <-errs:
		log.Error().Err(runErr).Msg("worker component failed")
	case <-quit:
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
	return runErr
}
