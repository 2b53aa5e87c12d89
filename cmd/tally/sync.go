package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tallysync "github.com/cartworks/tally/internal/sync"
	"github.com/cartworks/tally/internal/ui"
)

var syncNotify bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync the device with the remote store",
	Long: `Run a sync pass: drain queued local mutations to the remote store,
pull remote deltas back, and refresh dependent caches.

With --notify, the running daemon is asked to sync instead (by touching
its trigger file); without it, the pass runs in this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if syncNotify {
			return touchTriggerFile(cfg.TriggerFile())
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		remote := tallysync.NewHTTPRemote(cfg.RemoteURL, cfg.APIKey, nil, nil)
		coordCfg := tallysync.DefaultConfig()
		coordCfg.PartitionTimeout = cfg.PartitionTimeout
		coordCfg.AttemptCeiling = cfg.AttemptCeiling
		coord := tallysync.New(st, remote, coordCfg)

		start := time.Now()
		out := coord.RequestSync(context.Background(), tallysync.ReasonManual)

		switch out.Status {
		case tallysync.StatusSuccess:
			fmt.Printf("%s Sync complete: pushed=%d pulled=%d (%s)\n",
				ui.RenderAccent("✓"), out.Pushed, out.Pulled,
				time.Since(start).Round(time.Millisecond))
		case tallysync.StatusPartial:
			fmt.Printf("%s Sync partial: pushed=%d pulled=%d: %v\n",
				ui.RenderWarn("!"), out.Pushed, out.Pulled, out.Err)
		default:
			fmt.Printf("%s Sync failed: %v\n", ui.RenderError("✗"), out.Err)
		}
		return nil
	},
}

// touchTriggerFile asks a running daemon for a manual sync.
func touchTriggerFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to touch trigger file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to touch trigger file: %w", err)
	}
	fmt.Printf("%s Sync requested from daemon\n", ui.RenderAccent("→"))
	return nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncNotify, "notify", false, "signal the running daemon instead of syncing in-process")
}
