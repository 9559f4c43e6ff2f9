package featureflags_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/featureflags"
)

func fieldNames(err error) []string {
	var verr *featureflags.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	names := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		names = append(names, fe.Field)
	}
	return names
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		flag       *featureflags.FeatureFlag
		wantFields []string
	}{
		{
			name: "valid flag",
			flag: newFlag("valid"),
		},
		{
			name:       "nil flag",
			flag:       nil,
			wantFields: []string{"flag"},
		},
		{
			name:       "blank name and key",
			flag:       &featureflags.FeatureFlag{Name: " ", Key: ""},
			wantFields: []string{"key", "name"},
		},
		{
			name: "rollout out of range",
			flag: &featureflags.FeatureFlag{
				Name: "n", Key: "k",
				EnvironmentConfigs: []featureflags.EnvironmentConfig{
					{Environment: "Production", RolloutPercentage: 101},
				},
			},
			wantFields: []string{"environmentConfigs[0].rolloutPercentage"},
		},
		{
			name: "blank environment name",
			flag: &featureflags.FeatureFlag{
				Name: "n", Key: "k",
				EnvironmentConfigs: []featureflags.EnvironmentConfig{
					{Environment: "Production"},
					{Environment: ""},
				},
			},
			wantFields: []string{"environmentConfigs[1].environment"},
		},
		{
			name: "unknown targeting type",
			flag: &featureflags.FeatureFlag{
				Name: "n", Key: "k",
				TargetingRules: []featureflags.TargetingRule{
					{Type: "Country", Values: []string{"NL"}},
				},
			},
			wantFields: []string{"targetingRules[0].type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := featureflags.Validate(tt.flag)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ElementsMatch(t, tt.wantFields, fieldNames(err))
		})
	}
}

func TestValidate_AllTargetingTypes(t *testing.T) {
	types := []featureflags.TargetingType{
		featureflags.TargetingUser,
		featureflags.TargetingGroup,
		featureflags.TargetingIPAddress,
		featureflags.TargetingDevice,
		featureflags.TargetingCustom,
	}
	for _, typ := range types {
		flag := newFlag("typed")
		flag.TargetingRules = []featureflags.TargetingRule{{Type: typ, Values: []string{"x"}, IsInclude: true}}
		assert.NoError(t, featureflags.Validate(flag), typ)
	}
}
