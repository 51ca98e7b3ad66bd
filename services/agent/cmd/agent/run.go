package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ids/internal/observability/logging"
	"ids/services/agent/internal/config"
	"ids/services/agent/internal/observability/metrics"
	"ids/services/agent/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start capturing and delivering events",
	Long: `Starts every enabled capture source and the delivery worker. Events
left undelivered by a previous run are replayed first.

SIGINT and SIGTERM stop the agent. SIGHUP re-reads the configuration file and
logs which settings changed; changes take effect on the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		slog.SetDefault(logger)

		metrics.MustRegister(cfg.DeviceID)

		agent, err := pipeline.New(cfg, pipeline.WithLogger(logger))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go watchReload(ctx, cfg, logger)

		return agent.Run(ctx)
	},
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Config{
		ServiceName: "agent",
		Environment: cfg.Log.Env,
		Level:       cfg.Log.Level,
	})
}

func watchReload(ctx context.Context, current config.Config, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := current.Reload()
			if err != nil {
				logger.Error("reload configuration", "path", current.Path, "error", err)
				continue
			}
			changed := config.Diff(current, next)
			if len(changed) == 0 {
				logger.Info("configuration reloaded, nothing changed", "path", current.Path)
				continue
			}
			logger.Warn("configuration changed on disk, restart the agent to apply", "path", current.Path, "changed", changed)
		}
	}
}
