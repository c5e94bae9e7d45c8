package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Addr string `yaml:"addr"`
	TTL  string `yaml:"ttl"`
}

func TestLoadYAMLBlankPathIsNoop(t *testing.T) {
	var cfg testConfig
	require.NoError(t, LoadYAML("", &cfg))
	assert.Equal(t, testConfig{}, cfg)
}

func TestLoadYAMLPopulatesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\nttl: \"45s\"\n"), 0o644))

	var cfg testConfig
	require.NoError(t, LoadYAML(path, &cfg))
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "45s", cfg.TTL)
}

func TestLoadYAMLMissingFileErrors(t *testing.T) {
	var cfg testConfig
	err := LoadYAML("/nonexistent/config.yaml", &cfg)
	assert.Error(t, err)
}

func TestGetenvFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "fallback", Getenv("VSTACK_CONFIG_TEST_UNSET", "fallback"))
}

func TestGetenvDurationParsesAndFallsBack(t *testing.T) {
	t.Setenv("VSTACK_CONFIG_TEST_TTL", "10s")
	assert.Equal(t, 10*time.Second, GetenvDuration("VSTACK_CONFIG_TEST_TTL", time.Second))

	t.Setenv("VSTACK_CONFIG_TEST_TTL_BAD", "not-a-duration")
	assert.Equal(t, time.Second, GetenvDuration("VSTACK_CONFIG_TEST_TTL_BAD", time.Second))
}

func TestGetenvIntParsesAndFallsBack(t *testing.T) {
	t.Setenv("VSTACK_CONFIG_TEST_N", "7")
	assert.Equal(t, 7, GetenvInt("VSTACK_CONFIG_TEST_N", 1))

	t.Setenv("VSTACK_CONFIG_TEST_N_BAD", "nope")
	assert.Equal(t, 1, GetenvInt("VSTACK_CONFIG_TEST_N_BAD", 1))
}
