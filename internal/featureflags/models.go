// Package featureflags provides feature flag storage, validation and evaluation.
package featureflags

import (
	"slices"
	"strings"
	"time"
)

// TargetingType identifies what a targeting rule matches against.
type TargetingType string

// Targeting rule types.
const (
	TargetingUser      TargetingType = "User"
	TargetingGroup     TargetingType = "Group"
	TargetingIPAddress TargetingType = "IpAddress"
	TargetingDevice    TargetingType = "Device"
	TargetingCustom    TargetingType = "Custom"
)

// FeatureFlag is a named switch with global state, per-environment overrides and
// stored targeting rules.
type FeatureFlag struct {
	ID                 string              `json:"id" bson:"_id" yaml:"id"`
	Key                string              `json:"key" bson:"key" yaml:"key" validate:"notblank"`
	Name               string              `json:"name" bson:"name" yaml:"name" validate:"notblank"`
	Description        string              `json:"description" bson:"description" yaml:"description"`
	Enabled            bool                `json:"enabled" bson:"enabled" yaml:"enabled"`
	Tags               []string            `json:"tags" bson:"tags" yaml:"tags"`
	CreatedAt          time.Time           `json:"createdAt" bson:"createdAt" yaml:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt" bson:"updatedAt" yaml:"updatedAt"`
	EnvironmentConfigs []EnvironmentConfig `json:"environmentConfigs" bson:"environmentConfigs" yaml:"environmentConfigs" validate:"dive"`
	TargetingRules     []TargetingRule     `json:"targetingRules" bson:"targetingRules" yaml:"targetingRules" validate:"dive"`
}

// EnvironmentConfig overrides a flag for one deployment environment.
type EnvironmentConfig struct {
	Environment       string    `json:"environment" bson:"environment" yaml:"environment" validate:"notblank"`
	Enabled           bool      `json:"enabled" bson:"enabled" yaml:"enabled"`
	RolloutPercentage int       `json:"rolloutPercentage" bson:"rolloutPercentage" yaml:"rolloutPercentage" validate:"min=0,max=100"`
	UpdatedAt         time.Time `json:"updatedAt" bson:"updatedAt" yaml:"updatedAt"`
}

// TargetingRule restricts a flag to a set of users, groups, addresses or devices.
// Rules are stored with the flag but not applied during evaluation.
type TargetingRule struct {
	Type      TargetingType `json:"type" bson:"type" yaml:"type" validate:"oneof=User Group IpAddress Device Custom"`
	Values    []string      `json:"values" bson:"values" yaml:"values"`
	IsInclude bool          `json:"isInclude" bson:"isInclude" yaml:"isInclude"`
}

// Clone returns a deep copy of the flag.
func (f *FeatureFlag) Clone() *FeatureFlag {
	if f == nil {
		return nil
	}
	cpy := *f
	cpy.Tags = slices.Clone(f.Tags)
	cpy.EnvironmentConfigs = slices.Clone(f.EnvironmentConfigs)
	if f.TargetingRules != nil {
		cpy.TargetingRules = make([]TargetingRule, len(f.TargetingRules))
		for i, rule := range f.TargetingRules {
			rule.Values = slices.Clone(rule.Values)
			cpy.TargetingRules[i] = rule
		}
	}
	return &cpy
}

// HasAnyTag reports whether the flag carries at least one of the given tags.
// Comparison is case-insensitive.
func (f *FeatureFlag) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range f.Tags {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// Environment returns the first environment config matching name, ignoring case.
func (f *FeatureFlag) Environment(name string) (EnvironmentConfig, bool) {
	for _, env := range f.EnvironmentConfigs {
		if strings.EqualFold(env.Environment, name) {
			return env, true
		}
	}
	return EnvironmentConfig{}, false
}

// NormalizeKey returns the lookup form of a flag key.
func NormalizeKey(key string) string {
	return strings.ToLower(key)
}

// stampEnvironments sets UpdatedAt on environment configs that have none.
func (f *FeatureFlag) stampEnvironments(now time.Time) {
	for i := range f.EnvironmentConfigs {
		if f.EnvironmentConfigs[i].UpdatedAt.IsZero() {
			f.EnvironmentConfigs[i].UpdatedAt = now
		}
	}
}
