package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appEnvVar = "APP_ENV"

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":   EnvironmentDevelopment,
	"prod":  EnvironmentProduction,
	"stag":  EnvironmentStaging,
	"stage": EnvironmentStaging,
}

// AppEnvironment reads APP_ENV, normalises aliases and defaults to
// development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath prefers config.<env>.yml next to path when such a
// file exists for the current APP_ENV.
func resolveEnvSpecificPath(path string) string {
	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "." + AppEnvironment() + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
