package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/superninja/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SuperNinja daemon in the foreground",
	Long: `Run the SuperNinja daemon: event bus, stale task reaper, idle session
sweep, config watcher and the HTTP endpoints /metrics, /events, /healthz and
/dashboard. Stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if daemon.IsRunning(cfg.Server.PIDFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.Server.PIDFile)
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, loader, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
