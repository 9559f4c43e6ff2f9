// Package flagstore opens the flag repository selected by configuration.
package flagstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/config"
	"github.com/flagplane/flagplane/internal/database"
	"github.com/flagplane/flagplane/internal/featureflags"
	"github.com/flagplane/flagplane/internal/resilience"
)

// Store is an opened flag repository together with the resources backing it.
type Store struct {
	// Repository is what the service should use. With fallback enabled it is the
	// FallbackRepository wrapping the backend.
	Repository featureflags.Repository

	// Backend is the configured backend name.
	Backend string

	pinger  featureflags.Pinger
	closers []func(context.Context) error
}

// Ping checks the backend. Stores without a remote backend always succeed.
func (s *Store) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}

// Close releases connections held by the store.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open connects to the configured backend, wraps it with the fallback
// decorator when enabled and loads seed data into an empty store.
func Open(ctx context.Context, cfg *config.Config, registry *resilience.Registry, logger zerolog.Logger) (*Store, error) {
	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	seed, err := seedFlags(cfg.Store)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	if cfg.Store.Fallback {
		secondary := featureflags.NewInMemoryRepositoryWithFlags(seed)
		store.Repository = featureflags.NewFallbackRepository(featureflags.FallbackConfig{
			Name:      cfg.Store.Backend,
			Primary:   store.Repository,
			Secondary: secondary,
			Sticky:    cfg.Store.FallbackSticky,
			Registry:  registry,
			Logger:    logger,
		})
		if registry != nil {
			backend := cfg.Store.Backend
			store.closers = append(store.closers, func(context.Context) error {
				registry.Unregister(backend)
				return nil
			})
		}
		logger.Info().
			Str("backend", cfg.Store.Backend).
			Bool("sticky", cfg.Store.FallbackSticky).
			Msg("in-memory fallback enabled")
	}

	if len(seed) > 0 {
		if err := seedIfEmpty(ctx, store.Repository, seed, logger); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
	}

	return store, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	store := &Store{Backend: cfg.Store.Backend}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		store.Repository = featureflags.NewInMemoryRepository()

	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store.closers = append(store.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		repo := featureflags.NewPostgresRepository(pool)
		store.Repository = repo
		store.pinger = repo
		logger.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

	case config.BackendMongo:
		client, err := database.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		store.closers = append(store.closers, client.Disconnect)
		repo := featureflags.NewMongoRepository(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		store.Repository = repo
		store.pinger = repo
		logger.Info().
			Str("database", cfg.Mongo.Database).
			Str("collection", cfg.Mongo.Collection).
			Msg("mongo connected")

	case config.BackendRedis:
		client, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store.closers = append(store.closers, func(context.Context) error { return client.Close() })
		repo := featureflags.NewRedisRepository(client, cfg.Redis.Prefix)
		store.Repository = repo
		store.pinger = repo
		logger.Info().Str("prefix", cfg.Redis.Prefix).Msg("redis connected")

	default:
		return nil, fmt.Errorf("%w: unknown STORE_BACKEND %q", config.ErrInvalidConfig, cfg.Store.Backend)
	}

	return store, nil
}

func seedFlags(cfg config.StoreConfig) ([]*featureflags.FeatureFlag, error) {
	if !cfg.Seed {
		return nil, nil
	}

	flags := featureflags.DefaultFlags()
	if cfg.SeedFile != "" {
		var err error
		if flags, err = featureflags.LoadSeedFile(cfg.SeedFile); err != nil {
			return nil, fmt.Errorf("load seed file: %w", err)
		}
	}

	// Seeded flags carry the same id in the backend and the fallback copy.
	for _, f := range flags {
		if f.ID == "" {
			f.ID = featureflags.NewID()
		}
	}
	return flags, nil
}

func seedIfEmpty(ctx context.Context, repo featureflags.Repository, flags []*featureflags.FeatureFlag, logger zerolog.Logger) error {
	existing, err := repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("check existing flags: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug().Int("flags", len(existing)).Msg("store already populated, skipping seed")
		return nil
	}

	created, err := featureflags.Seed(ctx, repo, flags)
	if err != nil {
		return err
	}
	logger.Info().Int("flags", created).Msg("seeded feature flags")
	return nil
}
