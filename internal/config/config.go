// Package config implements the small typed configuration loader shared by
// every V-Stack entrypoint: environment variables override built-in
// defaults, and an optional -config YAML file supplies the same fields for
// scripted deployments. This generalizes cmd/coordinator/main.go's original
// getenv-only pattern in the lineage with a file layer, since a multi-node
// deployment (several storage nodes, a coordinator, an ingest worker) needs
// more than env vars to configure reproducibly.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads the YAML file at path into out, a pointer to a typed config
// struct. A blank path is not an error — callers treat it as "no file given,
// defaults plus env overrides only".
func LoadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Getenv returns the named environment variable, or def if unset/empty.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetenvDuration parses the named environment variable as a duration,
// falling back to def (and logging a warning) if unset or unparseable.
func GetenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration %q for %s, using default %v", v, key, def)
		return def
	}
	return parsed
}

// GetenvInt parses the named environment variable as an int, falling back
// to def (and logging a warning) if unset or unparseable.
func GetenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var parsed int
	if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil {
		log.Printf("config: invalid int %q for %s, using default %v", v, key, def)
		return def
	}
	return parsed
}
