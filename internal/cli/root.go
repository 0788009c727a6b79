// Package cli implements the command-line interface for txcache.
package cli

import (
	"fmt"
	"os"

	"github.com/colthorp/txcache/internal/core"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose   bool
	quiet     bool
	envFile   string
	storeKind string
	storePath string
	timezone  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "txcache",
	Short:         "txcache – cached Plaid transactions",
	Long:          `Serves and queries a per-user cache of Plaid transactions, fetching only the date ranges not already stored.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", fmt.Sprintf("Store backend: memory, filesystem, sqlite or firestore (default: %s)", core.DefaultStore))
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "Directory or database file for the filesystem and sqlite stores")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone for date calculations (default: %s)", core.DefaultTZ))
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

// loadConfig builds the configuration from the env file, the environment and
// the persistent flags, in increasing order of precedence.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}

	if storeKind != "" {
		cfg.Store = storeKind
	}
	if storePath != "" {
		cfg.StorePath = storePath
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	cfg.Verbose = verbose
	cfg.Quiet = quiet

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
