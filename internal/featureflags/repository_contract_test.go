package featureflags_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/featureflags"
)

// testRepositoryContract runs the behaviour every Repository implementation
// shares. newRepo must return an empty store.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) featureflags.Repository) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, newFlag("checkout-v2", "payments"))
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, created.CreatedAt, created.UpdatedAt)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Key, got.Key)
		assert.Equal(t, created.Name, got.Name)
		assert.Equal(t, []string{"payments"}, got.Tags)
		require.Len(t, got.EnvironmentConfigs, 1)
		assert.Equal(t, "Production", got.EnvironmentConfigs[0].Environment)
		assert.True(t, got.EnvironmentConfigs[0].Enabled)
		assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

		_, err = repo.GetByID(ctx, "ff_missing")
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)
	})

	t.Run("key lookup ignores case", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, newFlag("Dark-Mode"))
		require.NoError(t, err)

		got, err := repo.GetByKey(ctx, "DARK-mode")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "Dark-Mode", got.Key)

		_, err = repo.GetByKey(ctx, "light-mode")
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)
	})

	t.Run("duplicate key", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.Create(ctx, newFlag("dark-mode"))
		require.NoError(t, err)

		_, err = repo.Create(ctx, newFlag("DARK-MODE"))
		assert.ErrorIs(t, err, featureflags.ErrDuplicateKey)

		second, err := repo.Create(ctx, newFlag("light-mode"))
		require.NoError(t, err)
		second.Key = "Dark-Mode"
		_, err = repo.Update(ctx, second)
		assert.ErrorIs(t, err, featureflags.ErrDuplicateKey)

		got, err := repo.GetByKey(ctx, "dark-mode")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		got, err = repo.GetByKey(ctx, "light-mode")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("update missing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Create(ctx, newFlag("existing"))
		require.NoError(t, err)

		missing := newFlag("ghost")
		missing.ID = "ff_missing"
		_, err = repo.Update(ctx, missing)
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "existing", all[0].Key)
		_, err = repo.GetByKey(ctx, "ghost")
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)
	})

	t.Run("update replaces record and re-keys", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, newFlag("old-key", "ui"))
		require.NoError(t, err)

		updated, err := repo.Update(ctx, &featureflags.FeatureFlag{
			ID:      created.ID,
			Key:     "new-key",
			Name:    "Renamed",
			Enabled: false,
		})
		require.NoError(t, err)
		assert.WithinDuration(t, created.CreatedAt, updated.CreatedAt, time.Millisecond)
		assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

		_, err = repo.GetByKey(ctx, "old-key")
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)

		got, err := repo.GetByKey(ctx, "NEW-KEY")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.False(t, got.Enabled)
		assert.Empty(t, got.Tags)
		assert.Empty(t, got.EnvironmentConfigs)

		// The old key is free again.
		_, err = repo.Create(ctx, newFlag("old-key"))
		assert.NoError(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, newFlag("temp"))
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = repo.GetByKey(ctx, "temp")
		assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)

		_, err = repo.Create(ctx, newFlag("TEMP"))
		assert.NoError(t, err)
	})

	t.Run("tags ignore case", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		for _, f := range []*featureflags.FeatureFlag{
			newFlag("new-dashboard", "ui", "dashboard"),
			newFlag("api-rate-limiting", "api"),
			newFlag("dark-mode", "UI", "theme"),
		} {
			_, err := repo.Create(ctx, f)
			require.NoError(t, err)
		}

		flags, err := repo.GetByTags(ctx, []string{"Ui"})
		require.NoError(t, err)
		require.Len(t, flags, 2)
		assert.Equal(t, "dark-mode", flags[0].Key)
		assert.Equal(t, "new-dashboard", flags[1].Key)

		flags, err = repo.GetByTags(ctx, []string{"missing"})
		require.NoError(t, err)
		assert.Empty(t, flags)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "api-rate-limiting", all[0].Key)
	})

	t.Run("concurrent creates", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const n = 64
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := repo.Create(ctx, newFlag(fmt.Sprintf("flag-%d", i), "load")); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, n)
	})

	t.Run("concurrent creates of one key", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const n = 16
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			created    int
			duplicates int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Create(ctx, newFlag("contended"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, featureflags.ErrDuplicateKey):
					duplicates++
				default:
					t.Errorf("create: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, n-1, duplicates)
	})

	t.Run("concurrent updates of one flag", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, newFlag("hot-flag"))
		require.NoError(t, err)

		const n = 32
		names := make(map[string]bool, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("writer-%d", i)
			names[name] = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				f := created.Clone()
				f.Name = name
				if _, err := repo.Update(ctx, f); err != nil {
					t.Errorf("update: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := repo.GetByKey(ctx, "hot-flag")
		require.NoError(t, err)
		assert.True(t, names[got.Name], "last writer wins: %q", got.Name)
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
