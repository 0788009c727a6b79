package core

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every process-wide setting. It is built once at startup and
// handed to the components that need it.
type Config struct {
	PlaidClientID    string
	PlaidSecret      string
	PlaidEnv         string
	PlaidRedirectURI string
	PlaidVersion     string
	PlaidClientName  string

	Port      string
	Timezone  string
	StaticDir string

	Store            string
	StorePath        string
	FirestoreProject string

	MaxParallelFetches int
	SerializePerUser   bool

	LogFormat string
	Verbose   bool
	Quiet     bool
}

// LoadConfig reads the given .env files (missing ones are skipped), then the
// process environment, and fills defaults for anything left unset.
// Variables already present in the environment win over .env values.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "could not load env file %s", f)
		}
	}

	cfg := &Config{
		PlaidClientID:    os.Getenv(EnvPlaidClientID),
		PlaidSecret:      os.Getenv(EnvPlaidSecret),
		PlaidEnv:         envOr(EnvPlaidEnv, DefaultPlaidEnv),
		PlaidRedirectURI: os.Getenv(EnvPlaidRedirectURI),
		PlaidVersion:     envOr(EnvPlaidVersion, PlaidVersion),
		PlaidClientName:  envOr(EnvPlaidClientName, PlaidClientName),
		Port:             envOr(EnvPort, DefaultPort),
		Timezone:         envOr(EnvTimezone, DefaultTZ),
		StaticDir:        envOr(EnvStaticDir, DefaultStaticDir),
		Store:            envOr(EnvStore, DefaultStore),
		StorePath:        os.Getenv(EnvStorePath),
		FirestoreProject: os.Getenv(EnvFirestoreProject),
		SerializePerUser: true,
		LogFormat:        envOr(EnvLogFormat, DefaultLogFormat),
	}

	cfg.MaxParallelFetches = DefaultMaxParallelFetches
	if v := os.Getenv(EnvMaxParallelFetches); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s=%q is not a number", EnvMaxParallelFetches, v)
		}
		cfg.MaxParallelFetches = n
	}

	if v := os.Getenv(EnvSerializePerUser); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s=%q is not a boolean", EnvSerializePerUser, v)
		}
		cfg.SerializePerUser = b
	}

	return cfg, nil
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, ok := PlaidEnvironments[c.PlaidEnv]; !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown plaid environment %q", c.PlaidEnv)
	}

	switch c.Store {
	case StoreMemory, StoreFilesystem, StoreSQLite:
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return errors.Wrapf(ErrInvalidConfig, "%s is required for the firestore store", EnvFirestoreProject)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown store %q", c.Store)
	}

	if c.MaxParallelFetches < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max parallel fetches must be >= 0, got %d", c.MaxParallelFetches)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown log format %q", c.LogFormat)
	}

	return nil
}

// PlaidBaseURL returns the API base URL of the configured environment.
func (c *Config) PlaidBaseURL() string {
	return PlaidEnvironments[c.PlaidEnv]
}

// ResolvedStorePath returns StorePath, or the default location for the
// configured store kind.
func (c *Config) ResolvedStorePath() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	switch c.Store {
	case StoreSQLite:
		return filepath.Join(DataRoot(), "txcache.db")
	default:
		return filepath.Join(DataRoot(), "store")
	}
}

// DataRoot returns the default data directory path.
func DataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".txcache")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
