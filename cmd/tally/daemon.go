package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cartworks/tally/internal/badge"
	"github.com/cartworks/tally/internal/daemon"
	"github.com/cartworks/tally/internal/statusd"
	tallysync "github.com/cartworks/tally/internal/sync"
)

var (
	daemonUser  string
	daemonCarts []string
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the device sync daemon.

The daemon:
  1. Runs a cold-start sync pass
  2. Probes connectivity every 30s and syncs when reachable
  3. Treats SIGUSR1 as the app-foreground trigger
  4. Watches the trigger file for manual 'tally sync --notify' requests
  5. Keeps badge counts fresh and serves the local status endpoint`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		// Rotating file log plus stderr.
		logSink := io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile(),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})

		remote := tallysync.NewHTTPRemote(cfg.RemoteURL, cfg.APIKey, nil,
			log.New(logSink, "[remote] ", log.LstdFlags))

		coordCfg := tallysync.DefaultConfig()
		coordCfg.PartitionTimeout = cfg.PartitionTimeout
		coordCfg.AttemptCeiling = cfg.AttemptCeiling
		coordCfg.Logger = log.New(logSink, "[sync] ", log.LstdFlags)
		coord := tallysync.New(st, remote, coordCfg)

		// Last badge count computed by the poller, for the snapshot.
		var lastBadge atomic.Int64

		server := statusd.NewServer(&statusd.Config{
			Addr:   cfg.StatusAddr,
			Logger: log.New(logSink, "[statusd] ", log.LstdFlags),
			Snapshot: func(ctx context.Context) statusd.Snapshot {
				var snap statusd.Snapshot
				if out, at, ok := coord.LastOutcome(); ok {
					data := statusd.SyncCompleteData{
						Status: out.Status.String(),
						Reason: string(out.Reason),
						Pushed: out.Pushed,
						Pulled: out.Pulled,
					}
					if out.Err != nil {
						data.Error = out.Err.Error()
					}
					snap.LastSync = &data
					snap.LastSyncAt = &at
				}
				if pending, err := st.PendingCount(ctx); err == nil {
					snap.PendingPush = pending
				}
				snap.BadgeCount = int(lastBadge.Load())
				return snap
			},
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		handler := statusd.NewHandler(server, log.New(logSink, "[statusd] ", log.LstdFlags))

		agg := badge.New(st, log.New(logSink, "[badge] ", log.LstdFlags))
		user := badge.UserContext{UserID: daemonUser}
		if cmd.Flags().Changed("carts") {
			user.CartIDs = daemonCarts
		}
		poller := badge.NewPoller(agg, user, cfg.BadgePollInterval, func(count int) {
			lastBadge.Store(int64(count))
			handler.OnBadgeCount(user.UserID, count)
		})

		daemonCfg := daemon.DefaultConfig()
		daemonCfg.ProbeInterval = cfg.ProbeInterval
		daemonCfg.BadgePollInterval = cfg.BadgePollInterval
		daemonCfg.TriggerFile = cfg.TriggerFile()
		daemonCfg.Logger = log.New(logSink, "[daemon] ", log.LstdFlags)

		d, err := daemon.New(coord, remote, poller, handler, daemonCfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonUser, "user", "", "acting user id for badge counts")
	daemonCmd.Flags().StringSliceVar(&daemonCarts, "carts", nil, "cart ids the user manages (omit for full access)")
}
