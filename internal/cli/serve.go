package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/nanobrain/internal/scheduler"
	"github.com/lazypower/nanobrain/internal/server"
	"github.com/lazypower/nanobrain/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, cfg, closeDB, err := openEngine()
	if err != nil {
		return err
	}
	defer closeDB()
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Render once at startup so a stale MEMORY.md from a crash is replaced
	// and a broken memory dir shows up before traffic arrives.
	if path, err := eng.WriteSummary(ctx); err != nil {
		eng.Logger.Warn("serve: initial summary failed", "error", err)
	} else {
		eng.Logger.Info("serve: summary written", "path", path)
	}

	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(scheduler.StatePath(cfg.Memory.Dir), cfg.SchedulerConfig())
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		sched.Logger = eng.Logger
		if err := eng.StartScheduler(sched, cfg.Schedule.CheckInterval); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	if cfg.Summary.Watch {
		w, err := watcher.New(cfg.Memory.Dir, func(ctx context.Context) {
			if _, err := eng.WriteSummary(ctx); err != nil {
				eng.Logger.Warn("watcher: summary refresh failed", "error", err)
			}
		}, watcher.WithLogger(eng.Logger))
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		go w.Run(ctx)
	}

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(eng, VersionString()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "nanobrain serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  memory: %s\n", cfg.Memory.Dir)
		fmt.Fprintf(os.Stderr, "  db: %s\n", cfg.DBPath())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
