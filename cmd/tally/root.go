package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/config"
	"github.com/cartworks/tally/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Offline-first POS and shift settlement for food carts",
	Long: `tally keeps a food-cart device running offline: shifts, settlements
and notifications live in a local SQLite store, queued mutations are
replayed to the remote store when connectivity allows, and settlement
reconciliation runs entirely from local data.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $TALLY_DATA_DIR/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync commands"},
		&cobra.Group{ID: "ops", Title: "Shift operations"},
		&cobra.Group{ID: "recon", Title: "Reconciliation"},
	)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(shiftCmd)
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(reconCmd)
	rootCmd.AddCommand(importCmd)
}

// loadConfig reads the device configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the device database and ensures the schema exists.
// The caller MUST Close() it.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open device database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}
