package core

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		EnvPlaidClientID, EnvPlaidSecret, EnvPlaidEnv, EnvPlaidRedirectURI,
		EnvPlaidVersion, EnvPlaidClientName, EnvPort, EnvTimezone, EnvStore,
		EnvStorePath, EnvFirestoreProject, EnvMaxParallelFetches,
		EnvSerializePerUser, EnvStaticDir, EnvLogFormat,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultPlaidEnv, cfg.PlaidEnv)
	assert.Equal(t, PlaidVersion, cfg.PlaidVersion)
	assert.Equal(t, PlaidClientName, cfg.PlaidClientName)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultStore, cfg.Store)
	assert.Equal(t, DefaultMaxParallelFetches, cfg.MaxParallelFetches)
	assert.True(t, cfg.SerializePerUser)
	assert.Equal(t, "https://sandbox.plaid.com", cfg.PlaidBaseURL())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even to "".
	os.Unsetenv(EnvPlaidClientID)
	os.Unsetenv(EnvPlaidSecret)
	os.Unsetenv(EnvMaxParallelFetches)
	os.Unsetenv(EnvSerializePerUser)
	t.Cleanup(func() {
		os.Unsetenv(EnvPlaidClientID)
		os.Unsetenv(EnvPlaidSecret)
		os.Unsetenv(EnvMaxParallelFetches)
		os.Unsetenv(EnvSerializePerUser)
	})

	envFile := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"PLAID_CLIENT_ID=client-123",
		"PLAID_SECRET=secret-456",
		"TXCACHE_MAX_PARALLEL_FETCHES=2",
		"TXCACHE_SERIALIZE_PER_USER=false",
	}, "\n")
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))

	cfg, err := LoadConfig(envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "client-123", cfg.PlaidClientID)
	assert.Equal(t, "secret-456", cfg.PlaidSecret)
	assert.Equal(t, 2, cfg.MaxParallelFetches)
	assert.False(t, cfg.SerializePerUser)
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMaxParallelFetches, "many")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{PlaidEnv: "sandbox", Store: StoreMemory, LogFormat: "text"}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown env", func(c *Config) { c.PlaidEnv = "staging" }},
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"firestore without project", func(c *Config) { c.Store = StoreFirestore }},
		{"negative parallelism", func(c *Config) { c.MaxParallelFetches = -1 }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestResolvedStorePath(t *testing.T) {
	cfg := &Config{Store: StoreSQLite}
	assert.Equal(t, filepath.Join(DataRoot(), "txcache.db"), cfg.ResolvedStorePath())

	cfg.StorePath = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.ResolvedStorePath())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false, "json")
	logger.Debug("hidden")
	logger.Info("shown", "component", "cache")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"cache"`)

	buf.Reset()
	NewLogger(&buf, true, "text").Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
