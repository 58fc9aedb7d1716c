package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvforge/lsmkv/internal/config"
	"github.com/kvforge/lsmkv/internal/logging"
	"github.com/kvforge/lsmkv/internal/store"
)

var (
	dataDir    string
	configFile string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lsmkv",
		Short: "lsmkv is an embeddable ordered key-value store built on an LSM tree",
	}

	root.PersistentFlags().StringVar(&dataDir, "dir", "", "data directory (overrides config)")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newDelCmd(),
		newFlushCmd(),
		newCompactCmd(),
		newStatsCmd(),
		newReplCmd(),
	)
	return root
}

// openStore loads config (file + LSMKV_ env overrides), applies any --dir
// override, and opens the store for the duration of one command.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if verbose {
		cfg.Verbose = true
	}
	log := logging.New(cfg.Verbose)
	return store.Open(cfg, log)
}
