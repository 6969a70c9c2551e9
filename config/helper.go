package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the env var key with parse, falling back when it is unset or
// malformed. Malformed values are logged so a typo never goes unnoticed.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	v, err := parse(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid value %q for %s, using fallback %v", value, key, fallback)
		return fallback
	}
	return v
}

func getEnv(key, fallback string) string {
	return lookup(key, fallback, func(s string) (string, error) { return s, nil })
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, time.ParseDuration)
}

func getIntEnv(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

func getInt32Env(key string, fallback int32) int32 {
	return lookup(key, fallback, func(s string) (int32, error) {
		i, err := strconv.ParseInt(s, 10, 32)
		return int32(i), err
	})
}

func getInt64Env(key string, fallback int64) int64 {
	return lookup(key, fallback, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
