// Package daemon runs the background sync engine on a device: it owns
// every trigger source (cold start, foreground signal, periodic
// connectivity probe, manual trigger file), the badge poller, and
// graceful shutdown.
//
// All triggers funnel into the coordinator's single-flight gate, so
// overlapping triggers collapse into one pass.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cartworks/tally/internal/badge"
	"github.com/cartworks/tally/internal/statusd"
	tallysync "github.com/cartworks/tally/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often the connectivity probe fires. A pass is
	// only started when the probe confirms the remote is reachable.
	ProbeInterval time.Duration

	// BadgePollInterval is how often badge counts are recomputed.
	BadgePollInterval time.Duration

	// TriggerFile is touched by the CLI to request a manual sync from a
	// running daemon. Empty disables the watcher.
	TriggerFile string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:     30 * time.Second,
		BadgePollInterval: 5 * time.Second,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates sync triggers and background refresh loops.
type Daemon struct {
	coord   *tallysync.Coordinator
	remote  tallysync.RemoteClient
	poller  *badge.Poller
	handler *statusd.Handler
	config  *Config

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// handler may be nil when no status server is running; poller may be nil
// when badge refresh is not wanted (tests).
func New(coord *tallysync.Coordinator, remote tallysync.RemoteClient, poller *badge.Poller, handler *statusd.Handler, config *Config) (*Daemon, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		coord:   coord,
		remote:  remote,
		poller:  poller,
		handler: handler,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run a cold-start sync pass (fails fast when offline)
// 2. Watch the trigger file for manual sync requests
// 3. Probe connectivity every ProbeInterval and sync when reachable
// 4. Treat SIGUSR1 as the app-foreground trigger
// 5. Keep badge counts fresh and rebroadcast them
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Subscribe dependents to the completion broadcast before the first
	// pass so nothing misses it.
	unsubscribe := d.coord.OnComplete(func() {
		if d.poller != nil {
			d.poller.Refresh()
		}
		if d.handler != nil {
			if out, _, ok := d.coord.LastOutcome(); ok {
				d.handler.OnSyncComplete(out)
			}
		}
	})
	defer unsubscribe()

	// Cold start fires unconditionally; push/pull fail fast if offline.
	d.requestSync(tallysync.ReasonColdStart)

	if d.config.TriggerFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		dir := filepath.Dir(d.config.TriggerFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create trigger directory: %w", err)
		}
		if err := d.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch trigger directory: %w", err)
		}
		d.config.Logger.Printf("Watching trigger file: %s", d.config.TriggerFile)

		d.wg.Add(1)
		go d.watchTriggerFile()
	}

	d.wg.Add(2)
	go d.probeLoop()
	go d.signalLoop()

	if d.poller != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.poller.Run(d.ctx)
		}()
	}

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// requestSync runs one coordinated pass. Failed syncs are logged, never
// surfaced: background sync is best-effort.
func (d *Daemon) requestSync(reason tallysync.TriggerReason) {
	out := d.coord.RequestSync(d.ctx, reason)
	if out.Err != nil {
		d.config.Logger.Printf("Sync %s (reason=%s): %v", out.Status, reason, out.Err)
	}
}

// watchTriggerFile fires a manual sync whenever the trigger file is
// touched.
func (d *Daemon) watchTriggerFile() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Name != d.config.TriggerFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}

			d.config.Logger.Printf("Trigger file touched: %s", event.Name)
			d.requestSync(tallysync.ReasonManual)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// probeLoop starts a pass on each tick, but only when the remote store
// answers the connectivity probe.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.remote.Probe(d.ctx) {
				d.config.Logger.Println("Probe: remote unreachable, skipping sync")
				continue
			}
			d.requestSync(tallysync.ReasonProbe)
		}
	}
}

// signalLoop treats SIGUSR1 as the app-foreground transition, which
// fires unconditionally like cold start.
func (d *Daemon) signalLoop() {
	defer d.wg.Done()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-sigs:
			d.config.Logger.Println("Foreground signal received")
			d.requestSync(tallysync.ReasonForeground)
		}
	}
}
