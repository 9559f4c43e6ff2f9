package featureflags

import "strings"

// DefaultEnvironment is used when a caller does not name an environment.
const DefaultEnvironment = "Production"

// IsEnabled evaluates a flag for an environment.
//
// A nil or globally disabled flag is off. Otherwise the first environment config
// whose name matches (ignoring case) decides; no match means off. Rollout
// percentage and targeting rules are not consulted.
func IsEnabled(flag *FeatureFlag, environment string) bool {
	if flag == nil || !flag.Enabled {
		return false
	}
	env, ok := flag.Environment(ResolveEnvironment(environment))
	if !ok {
		return false
	}
	return env.Enabled
}

// ResolveEnvironment returns environment, or DefaultEnvironment when it is blank.
func ResolveEnvironment(environment string) string {
	if strings.TrimSpace(environment) == "" {
		return DefaultEnvironment
	}
	return environment
}
