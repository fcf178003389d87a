// Package env reads process environment variables with typed defaults,
// for the handful of bootstrap settings main.go needs before the full
// viper-backed internal/config is loaded (logging goes live before config
// does, since config load failures still need to be logged somewhere).
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the named environment variable, or fallback if unset.
func GetEnvOrDefault(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// GetEnvBoolOrDefault returns the named environment variable parsed as a
// bool, or fallback if unset or unparsable.
func GetEnvBoolOrDefault(name string, fallback bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvIntOrDefault returns the named environment variable parsed as an
// int, or fallback if unset or unparsable.
func GetEnvIntOrDefault(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
