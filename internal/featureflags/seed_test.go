package featureflags_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/featureflags"
)

const seedYAML = `
flags:
  - key: checkout-v2
    name: Checkout v2
    description: New checkout flow
    enabled: true
    tags: [payments, ui]
    environmentConfigs:
      - environment: Production
        enabled: true
        rolloutPercentage: 10
    targetingRules:
      - type: Group
        values: [beta-testers]
        isInclude: true
  - key: legacy-search
    name: Legacy Search
    enabled: false
`

func TestDefaultFlagsAreValid(t *testing.T) {
	flags := featureflags.DefaultFlags()
	require.Len(t, flags, 3)
	for _, f := range flags {
		assert.NoError(t, featureflags.Validate(f), f.Key)
	}
}

func TestParseSeed(t *testing.T) {
	flags, err := featureflags.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, flags, 2)

	checkout := flags[0]
	assert.Equal(t, "checkout-v2", checkout.Key)
	assert.Equal(t, []string{"payments", "ui"}, checkout.Tags)
	require.Len(t, checkout.EnvironmentConfigs, 1)
	assert.Equal(t, 10, checkout.EnvironmentConfigs[0].RolloutPercentage)
	require.Len(t, checkout.TargetingRules, 1)
	assert.Equal(t, featureflags.TargetingGroup, checkout.TargetingRules[0].Type)

	assert.False(t, flags[1].Enabled)
}

func TestParseSeed_RejectsInvalidFlag(t *testing.T) {
	_, err := featureflags.ParseSeed([]byte("flags:\n  - key: nameless\n"))
	require.Error(t, err)
	assert.True(t, featureflags.IsValidationError(err))
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	flags, err := featureflags.LoadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, flags, 2)

	_, err = featureflags.LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeedSkipsExistingKeys(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	created, err := featureflags.Seed(ctx, repo, featureflags.DefaultFlags())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = featureflags.Seed(ctx, repo, featureflags.DefaultFlags())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 3, repo.Len())
}
