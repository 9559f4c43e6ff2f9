// Package main provides the entrypoint for the flagplane API server.
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

	"github.com/flagplane/flagplane/internal/api"
	"github.com/flagplane/flagplane/internal/api/middleware"
	"github.com/flagplane/flagplane/internal/auth"
	"github.com/flagplane/flagplane/internal/config"
	"github.com/flagplane/flagplane/internal/events"
	"github.com/flagplane/flagplane/internal/featureflags"
	"github.com/flagplane/flagplane/internal/flagstore"
	"github.com/flagplane/flagplane/internal/resilience"
	"github.com/flagplane/flagplane/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "flagplane-api"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("api exited")
	}
}

func run(log zerolog.Logger) error {
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting flagplane API")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.NewConfig(serviceName, Version, cfg))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}
	flagMetrics, err := featureflags.NewMetrics()
	if err != nil {
		return err
	}

	registry := resilience.NewRegistry()
	store, err := flagstore.Open(ctx, cfg, registry, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := store.Close(closeCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close flag store")
		}
	}()
	log.Info().
		Str("backend", store.Backend).
		Bool("fallback", cfg.Store.Fallback).
		Msg("flag store opened")

	var publisher featureflags.ChangePublisher = events.NewLogPublisher(log)
	if cfg.PubSub.Enabled() {
		pubsubPublisher, err := events.NewPubSubPublisher(ctx, events.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.Topic,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := pubsubPublisher.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close pubsub publisher")
			}
		}()
		publisher = pubsubPublisher
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing flag changes to pubsub")
	}

	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: store.Repository,
		Logger:     log,
		CacheTTL:   cfg.Store.EvaluationCacheTTL(),
		Publisher:  publisher,
		Metrics:    flagMetrics,
	})

	var validator middleware.TokenValidator
	if cfg.Auth.SigningKey != "" {
		validator = auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		})
	} else {
		if cfg.App.IsProduction() {
			return errors.New("JWT_SIGNING_KEY is required in production")
		}
		log.Warn().Msg("JWT_SIGNING_KEY not set - flag writes are unauthenticated")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            httpMetrics,
		FeatureFlagService: ffService,
		TokenValidator:     validator,
		Backend:            store.Backend,
		Store:              store,
		Registry:           registry,
		RequireTLS:         cfg.App.RequireTLS,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
