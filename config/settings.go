package config

import (
	"os"
	"strconv"
	"strings"
)

// BoolFromEnv parses a boolean env var, defaulting to def on absence or
// malformed input; cmd/server uses it for SKIP_MIGRATIONS and the policy
// flags.
func BoolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntFromEnv parses an integer env var, defaulting to def on absence or
// malformed input.
func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Int64FromEnv is IntFromEnv's int64 counterpart, used for the scheduler's
// semaphore weight and other config that wants to avoid a narrowing cast.
func Int64FromEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Float64FromEnv is IntFromEnv's float64 counterpart, used for matcher
// tolerance/threshold options.
func Float64FromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// StringFromEnv returns the trimmed env var, or def when unset/blank.
func StringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
