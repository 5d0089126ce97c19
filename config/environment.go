package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stag":  environmentStaging,
	"stage": environmentStaging,
}

// getAppEnvironment reads APP_ENV and defaults to development.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env should fail hard on missing
// credentials instead of disabling the affected provider.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}

// ResolvePath picks config.<env>.yml next to path when such a file exists,
// falling back to path itself. An explicit non-default path always wins.
func ResolvePath(path, defaultPath string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}

	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "." + getAppEnvironment() + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
