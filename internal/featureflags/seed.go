package featureflags

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by LoadSeedFile.
type SeedFile struct {
	Flags []*FeatureFlag `yaml:"flags"`
}

// DefaultFlags returns the sample flags used to populate an empty development store.
func DefaultFlags() []*FeatureFlag {
	return []*FeatureFlag{
		{
			Key:         "new-dashboard",
			Name:        "New Dashboard",
			Description: "Enables the new dashboard UI for users",
			Enabled:     true,
			Tags:        []string{"ui", "dashboard"},
			EnvironmentConfigs: []EnvironmentConfig{
				{Environment: "Development", Enabled: true, RolloutPercentage: 100},
				{Environment: "Staging", Enabled: true, RolloutPercentage: 50},
				{Environment: "Production", Enabled: false, RolloutPercentage: 0},
			},
		},
		{
			Key:         "api-rate-limiting",
			Name:        "API Rate Limiting",
			Description: "Enables rate limiting for API endpoints",
			Enabled:     true,
			Tags:        []string{"api", "performance"},
			EnvironmentConfigs: []EnvironmentConfig{
				{Environment: "Development", Enabled: false},
				{Environment: "Staging", Enabled: true},
				{Environment: "Production", Enabled: true},
			},
		},
		{
			Key:         "dark-mode",
			Name:        "Dark Mode",
			Description: "Enables dark mode UI theme",
			Enabled:     true,
			Tags:        []string{"ui", "theme"},
			TargetingRules: []TargetingRule{
				{Type: TargetingUser, Values: []string{"user123", "admin456"}, IsInclude: true},
			},
			EnvironmentConfigs: []EnvironmentConfig{
				{Environment: "Development", Enabled: true},
				{Environment: "Staging", Enabled: true},
				{Environment: "Production", Enabled: true, RolloutPercentage: 20},
			},
		},
	}
}

// LoadSeedFile reads and validates flags from a YAML file.
func LoadSeedFile(path string) ([]*FeatureFlag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed document.
func ParseSeed(data []byte) ([]*FeatureFlag, error) {
	var doc SeedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, f := range doc.Flags {
		if err := Validate(f); err != nil {
			return nil, fmt.Errorf("seed flag %d: %w", i, err)
		}
	}
	return doc.Flags, nil
}

// Seed creates each flag in repo. Flags whose key already exists are skipped.
// It returns the number of flags created.
func Seed(ctx context.Context, repo Repository, flags []*FeatureFlag) (int, error) {
	created := 0
	for _, f := range flags {
		if _, err := repo.Create(ctx, f); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				continue
			}
			return created, fmt.Errorf("seed flag %q: %w", f.Key, err)
		}
		created++
	}
	return created, nil
}
