package featureflags_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/featureflags"
)

func newFlag(key string, tags ...string) *featureflags.FeatureFlag {
	return &featureflags.FeatureFlag{
		Key:     key,
		Name:    key,
		Enabled: true,
		Tags:    tags,
		EnvironmentConfigs: []featureflags.EnvironmentConfig{
			{Environment: "Production", Enabled: true},
		},
	}
}

func TestInMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, func(*testing.T) featureflags.Repository {
		return featureflags.NewInMemoryRepository()
	})
}

func TestInMemoryRepository_CreateGeneratesID(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newFlag("checkout-v2"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.False(t, created.EnvironmentConfigs[0].UpdatedAt.IsZero())

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestInMemoryRepository_CreateKeepsProvidedID(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	flag := newFlag("checkout-v2")
	flag.ID = "ff_fixed"

	created, err := repo.Create(context.Background(), flag)
	require.NoError(t, err)
	assert.Equal(t, "ff_fixed", created.ID)
}

func TestInMemoryRepository_GetByTags(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags([]*featureflags.FeatureFlag{
		newFlag("new-dashboard", "ui", "dashboard"),
		newFlag("api-rate-limiting", "api"),
		newFlag("dark-mode", "UI", "theme"),
	})
	ctx := context.Background()

	flags, err := repo.GetByTags(ctx, []string{"ui"})
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "dark-mode", flags[0].Key)
	assert.Equal(t, "new-dashboard", flags[1].Key)

	flags, err = repo.GetByTags(ctx, []string{"missing"})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	input := newFlag("isolated", "ui")
	created, err := repo.Create(ctx, input)
	require.NoError(t, err)

	input.Tags[0] = "mutated"
	created.EnvironmentConfigs[0].Enabled = false

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ui"}, got.Tags)
	assert.True(t, got.EnvironmentConfigs[0].Enabled)
}

func TestInMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := repo.Create(ctx, newFlag(fmt.Sprintf("flag-%d", i), "load"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			_, _ = repo.GetAll(ctx)
			_, _ = repo.GetByTags(ctx, []string{"load"})
			created.Enabled = false
			if _, err := repo.Update(ctx, created); err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, repo.Len())
}
