package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ocampo/fieldsync/internal/engine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync continuously in the background",
	Long: `Runs sync cycles on an interval and whenever connectivity returns after
an outage. Stops cleanly on SIGINT or SIGTERM; an interrupted cycle leaves
every unfinished item pending for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeFn, err := openEnv(true)
		if err != nil {
			return err
		}
		defer closeFn()

		logFile, err := e.Config.GetLogFile()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}, nil))
		slog.SetDefault(logger)

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = e.Config.GetSyncInterval()
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("fieldsync daemon started (interval %s, log %s)\n", interval, logFile)
		slog.Info("daemon started", "interval", interval.String())

		runDaemon(ctx, e, interval)

		slog.Info("daemon stopped")
		fmt.Println("fieldsync daemon stopped")
		return nil
	},
}

func runDaemon(ctx context.Context, e *env, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := e.Monitor.Subscribe()

	// initial cycle on startup
	runCycle(ctx, e)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle(ctx, e)
		case up := <-online:
			if up {
				slog.Info("connectivity regained, syncing")
				runCycle(ctx, e)
			}
		}
	}
}

func runCycle(ctx context.Context, e *env) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := e.Engine.Sync(ctx)
	switch {
	case err == nil:
		pending, dead, cerr := e.Queue.Counts()
		if cerr != nil {
			slog.Warn("queue counts failed", "error", cerr)
		}
		slog.Info("sync completed", "duration", time.Since(start).String(),
			"pending", pending, "dead", dead)
	case errors.Is(err, engine.ErrOffline):
		slog.Debug("sync skipped, offline")
	case errors.Is(err, engine.ErrSyncInProgress):
		slog.Debug("sync skipped, already running")
	case errors.Is(err, context.Canceled):
		slog.Info("sync interrupted")
	default:
		slog.Error("sync failed", "error", err)
	}
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "sync interval (default from config)")
	rootCmd.AddCommand(daemonCmd)
}
