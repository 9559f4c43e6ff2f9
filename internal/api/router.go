// Package api provides the HTTP API for the flag service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/api/handler"
	"github.com/flagplane/flagplane/internal/api/middleware"
	"github.com/flagplane/flagplane/internal/auth"
	"github.com/flagplane/flagplane/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version            string
	BuildTime          string
	Logger             zerolog.Logger
	ServiceName        string
	Metrics            *middleware.Metrics
	FeatureFlagService handler.FeatureFlagService

	// TokenValidator guards writes and /ops/status. When nil those routes are open.
	TokenValidator middleware.TokenValidator

	// Backend names the configured flag store for ops endpoints.
	Backend  string
	Store    handler.StorePinger
	Registry *resilience.Registry

	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "flagplane-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Backend:   cfg.Backend,
		Store:     cfg.Store,
		Registry:  cfg.Registry,
	})
	flagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	evaluationRateLimit := middleware.RateLimitByIP(middleware.EvaluationRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(requireScope(cfg.TokenValidator, auth.ScopeOpsRead)...).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/feature-flags", func(r chi.Router) {
			// Evaluation is called on hot paths by other services.
			r.With(evaluationRateLimit).Get("/status/{key}", flagsHandler.GetFeatureFlagStatus)

			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", flagsHandler.ListFeatureFlags)
				r.Get("/tags", flagsHandler.ListFeatureFlagsByTags)
				r.Get("/key/{key}", flagsHandler.GetFeatureFlagByKey)
				r.Get("/{id}", flagsHandler.GetFeatureFlag)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireScope(cfg.TokenValidator, auth.ScopeFlagsWrite)...)
				r.Use(middleware.RateLimitBySubject(middleware.WriteRateLimit))
				r.Post("/cache/invalidate", flagsHandler.InvalidateCache)
				r.Delete("/{id}", flagsHandler.DeleteFeatureFlag)

				r.With(middleware.RequireJSON).Post("/", flagsHandler.CreateFeatureFlag)
				r.With(middleware.RequireJSON).Put("/{id}", flagsHandler.UpdateFeatureFlag)
			})
		})
	})

	return r
}

// requireScope returns the auth middleware chain for a scope, or nothing when
// no validator is configured.
func requireScope(validator middleware.TokenValidator, scope string) []func(http.Handler) http.Handler {
	if validator == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{
		middleware.Auth(validator),
		middleware.RequireScope(scope),
	}
}
