package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/backend"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/daemon"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tracker"
	"github.com/wardenhq/warden/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon",
	Long: `Start the daemon that accepts work-item events, dispatches them to
coding-agent backends, and serves the session API.

State is kept in memory and snapshotted to SQLite on a fixed cadence;
the latest snapshot is restored on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:7414)")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
}

func serveRun(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	settings, err := config.Load()
	if err != nil {
		return err
	}
	repos, err := config.LoadRepositories(settings.RepositoriesFile)
	if err != nil {
		return fmt.Errorf("load repositories: %w", err)
	}

	pidFile := daemon.NewPIDFile(daemon.DefaultPath())
	if pid, running := pidFile.IsRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	snapshots, err := store.NewSQLiteStore(settings.DBPath)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() { _ = snapshots.Close() }()
	if err := snapshots.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate snapshot store: %w", err)
	}

	reg := registry.New()
	if snap, err := snapshots.LoadLatest(ctx); err != nil {
		logger.Warn("load latest snapshot failed, starting empty", "error", err)
	} else if snap != nil {
		if err := reg.Restore(snap); err != nil {
			logger.Warn("restore snapshot failed, starting empty", "error", err)
		} else {
			logger.Info("restored snapshot", "sessions", len(snap.Sessions))
		}
	}

	tc := tracker.NewLogClient(logger)
	orch := orchestrator.New(reg, repos, tc,
		workspace.NewGitWorktree(logger),
		backend.NewCLIFactory(settings.BackendCommands, settings.OpenCodeURL, logger),
		orchestrator.Options{
			DefaultBackend: settings.DefaultBackend,
			MaxConcurrent:  settings.MaxConcurrent,
			Logger:         logger,
		})

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	go orch.Maintain(ctx, settings.CleanupInterval, settings.Retention, snapshots)
	go func() {
		ticker := time.NewTicker(settings.CleanupInterval * 6)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := snapshots.Prune(ctx, settings.SnapshotsKept); err != nil {
					logger.Warn("prune snapshots failed", "error", err)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:    settings.ListenAddr,
		Handler: api.NewServer(reg, orch, logger).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("daemon listening", "addr", settings.ListenAddr, "repositories", len(repos))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	orch.Shutdown()
	if err := snapshots.Save(context.Background(), reg.Serialize()); err != nil {
		logger.Error("final snapshot failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
