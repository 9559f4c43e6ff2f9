package featureflags_test

import (
	"testing"

	"github.com/flagplane/flagplane/internal/featureflags"
)

func TestIsEnabled(t *testing.T) {
	flag := &featureflags.FeatureFlag{
		Key:     "new-dashboard",
		Enabled: true,
		EnvironmentConfigs: []featureflags.EnvironmentConfig{
			{Environment: "Development", Enabled: true, RolloutPercentage: 100},
			{Environment: "Staging", Enabled: true, RolloutPercentage: 0},
			{Environment: "Production", Enabled: false},
		},
	}

	tests := []struct {
		name        string
		flag        *featureflags.FeatureFlag
		environment string
		want        bool
	}{
		{"nil flag", nil, "Development", false},
		{"matching environment", flag, "Development", true},
		{"case insensitive match", flag, "dEVELOPMENT", true},
		{"disabled environment", flag, "Production", false},
		{"empty environment defaults to production", flag, "", false},
		{"unknown environment", flag, "QA", false},
		{"rollout percentage ignored", flag, "Staging", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := featureflags.IsEnabled(tt.flag, tt.environment); got != tt.want {
				t.Errorf("IsEnabled(%q) = %v, want %v", tt.environment, got, tt.want)
			}
		})
	}
}

func TestIsEnabled_GlobalKillSwitch(t *testing.T) {
	flag := &featureflags.FeatureFlag{
		Enabled: false,
		EnvironmentConfigs: []featureflags.EnvironmentConfig{
			{Environment: "Production", Enabled: true},
			{Environment: "Development", Enabled: true},
		},
	}

	for _, env := range []string{"Production", "Development", "", "Staging"} {
		if featureflags.IsEnabled(flag, env) {
			t.Errorf("expected disabled flag to be off in %q", env)
		}
	}
}

func TestIsEnabled_FirstMatchWins(t *testing.T) {
	flag := &featureflags.FeatureFlag{
		Enabled: true,
		EnvironmentConfigs: []featureflags.EnvironmentConfig{
			{Environment: "production", Enabled: true},
			{Environment: "Production", Enabled: false},
		},
	}

	if !featureflags.IsEnabled(flag, "PRODUCTION") {
		t.Error("expected the first matching environment config to decide")
	}
}

func TestIsEnabled_TargetingRulesIgnored(t *testing.T) {
	flag := &featureflags.FeatureFlag{
		Enabled: true,
		TargetingRules: []featureflags.TargetingRule{
			{Type: featureflags.TargetingUser, Values: []string{"someone-else"}, IsInclude: true},
		},
		EnvironmentConfigs: []featureflags.EnvironmentConfig{
			{Environment: "Production", Enabled: true},
		},
	}

	if !featureflags.IsEnabled(flag, "Production") {
		t.Error("expected targeting rules not to affect evaluation")
	}
}

func TestResolveEnvironment(t *testing.T) {
	if got := featureflags.ResolveEnvironment("  "); got != featureflags.DefaultEnvironment {
		t.Errorf("expected %q, got %q", featureflags.DefaultEnvironment, got)
	}
	if got := featureflags.ResolveEnvironment("Staging"); got != "Staging" {
		t.Errorf("expected Staging, got %q", got)
	}
}
