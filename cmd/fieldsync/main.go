// Command fieldsync is the offline-first field client daemon and CLI for
// building condition assessments. It keeps local mutations in a durable
// sync queue, replays them against the sync server when online, and
// enforces the local storage budget.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildwise/fieldsync/internal/config"
	"github.com/buildwise/fieldsync/internal/db"
	"github.com/buildwise/fieldsync/internal/logging"
	"github.com/buildwise/fieldsync/internal/store"
	syncpkg "github.com/buildwise/fieldsync/internal/sync"
	"github.com/buildwise/fieldsync/internal/sync/conflict"
	"github.com/buildwise/fieldsync/internal/sync/queue"
	"github.com/buildwise/fieldsync/internal/sync/scheduler"
	"github.com/buildwise/fieldsync/internal/telemetry"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync client for building condition assessments",
	Long: `FieldSync keeps building condition assessments, deficiencies, and
photos available offline. Mutations are recorded locally and replayed to
the sync server in priority order when connectivity returns.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Init(os.Stdout, logLevel(level))
	return nil
}

func logLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// app bundles the wired components behind the CLI commands.
type app struct {
	database  *db.DB
	store     *store.Store
	queue     *queue.SyncQueue
	engine    *syncpkg.SyncEngine
	scheduler *scheduler.Scheduler
}

// buildApp opens the local database and wires the store, sync engine, and
// scheduler. Queued items from previous runs are restored before use.
func buildApp() (*app, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := migrator.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo := db.NewRepository(database.DB)
	q := queue.NewSyncQueue(cfg.Sync.QueueCapacity, cfg.Sync.MaxRetries)
	blobs := store.NewPhotoBlobStore(cfg.PhotoDir())

	localStore := store.New(repo, q, blobs, store.Config{
		MaxSizeMB:  cfg.Storage.MaxSizeMB,
		MaxAgeDays: cfg.Storage.MaxAgeDays,
		MaxRetries: cfg.Sync.MaxRetries,
	})

	restored, err := localStore.RestoreQueue()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to restore sync queue: %w", err)
	}
	if restored > 0 {
		logging.Info("Restored queued changes from previous session",
			map[string]interface{}{"items": restored})
	}

	remote := syncpkg.NewHTTPRemote(&syncpkg.RemoteConfig{
		Endpoint: cfg.Remote.Endpoint,
		APIKey:   cfg.Remote.APIKey,
		DeviceID: cfg.Remote.DeviceID,
		Timeout:  cfg.RemoteTimeout(),
	})

	resolver := conflict.NewResolver(conflict.ResolutionServerDefault)
	engine := syncpkg.NewSyncEngine(localStore, repo, remote, resolver)

	sched := scheduler.NewScheduler(engine, q, localStore, &scheduler.SchedulerConfig{
		SyncInterval:        cfg.SyncInterval(),
		MaintenanceInterval: cfg.MaintenanceInterval(),
		EvictionBatch:       cfg.Storage.EvictionBatch,
	})

	return &app{
		database:  database,
		store:     localStore,
		queue:     q,
		engine:    engine,
		scheduler: sched,
	}, nil
}

func (a *app) close() {
	if err := a.database.Close(); err != nil {
		logging.Error("Failed to close database", err, nil)
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Runs periodic sync and storage maintenance in the background and
serves sync events over a local WebSocket endpoint.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		hub := NewWSHub()
		a.engine.SetEventHandler(syncpkg.SyncEventHandlerFunc(hub.BroadcastSyncEvent))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a.scheduler.Start(ctx)
		defer a.scheduler.Stop()

		addr, _ := cmd.Flags().GetString("listen")
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", HandleWebSocket(hub))
		mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok","service":"fieldsync"}`))
		})

		server := &http.Server{Addr: addr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			logging.Info("FieldSync daemon listening", map[string]interface{}{"addr": addr})
			errCh <- server.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		result, err := a.engine.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Sync completed in %s\n", result.Duration.Round(time.Millisecond))
		fmt.Printf("  pushed:    %d\n", result.Pushed)
		fmt.Printf("  pulled:    %d\n", result.Pulled)
		fmt.Printf("  conflicts: %d\n", result.Conflicts)
		fmt.Printf("  failed:    %d\n", result.Failed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local storage usage and pending changes",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		usage, err := a.store.Usage()
		if err != nil {
			return fmt.Errorf("failed to calculate storage usage: %w", err)
		}

		fmt.Printf("Storage usage: %.1f%% of %d MB\n", usage.PercentUsed, cfg.Storage.MaxSizeMB)
		fmt.Printf("  assessments:  %s\n", formatBytes(usage.AssessmentBytes))
		fmt.Printf("  photos:       %s\n", formatBytes(usage.PhotoBytes))
		fmt.Printf("  deficiencies: %s\n", formatBytes(usage.DeficiencyBytes))
		fmt.Printf("  cache:        %s\n", formatBytes(usage.CacheBytes))
		fmt.Printf("  total:        %s\n", formatBytes(usage.TotalBytes))
		if usage.OverBudget() {
			fmt.Println("  WARNING: over storage budget")
		}

		fmt.Printf("Pending changes: %d\n", len(a.queue.GetPending()))
		for status, count := range a.queue.GetStats() {
			fmt.Printf("  %s: %d\n", status, count)
		}

		metrics := telemetry.Snapshot()
		if metrics.SyncCycles > 0 {
			fmt.Printf("Sync cycles this session: %d (pushed %d, pulled %d, conflicts %d)\n",
				metrics.SyncCycles, metrics.RecordsPushed, metrics.RecordsPulled, metrics.ConflictsDetected)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the cleanup sweep and photo eviction immediately",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.store.RunCleanup(time.Now())
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d expired records\n", len(removed))

		evictedTotal := 0
		for {
			usage, err := a.store.Usage()
			if err != nil {
				return fmt.Errorf("failed to calculate storage usage: %w", err)
			}
			if !usage.OverBudget() {
				break
			}

			evicted, err := a.store.EvictPhotos(cfg.Storage.EvictionBatch)
			if err != nil {
				return fmt.Errorf("eviction failed: %w", err)
			}
			if len(evicted) == 0 {
				fmt.Println("Over budget but only unsynced data remains; nothing to evict")
				break
			}
			evictedTotal += len(evicted)
		}
		fmt.Printf("Evicted %d photos\n", evictedTotal)
		return nil
	},
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	daemonCmd.Flags().String("listen", "localhost:8091", "address for the local event server")

	rootCmd.AddCommand(daemonCmd, syncCmd, statusCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
