package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"mercator-hq/nimbus/pkg/cli"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/nimbus"
	"mercator-hq/nimbus/pkg/server"
	"mercator-hq/nimbus/pkg/telemetry/logging"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the deletion worker and access server",
	Long: `Start the deletion worker, the housekeeping schedules and the access
server with the specified configuration.

Examples:
  # Start with default config
  nimbus run

  # Start with custom config
  nimbus run --config /etc/nimbus/nimbus.yaml

  # Override listen address
  nimbus run --listen 0.0.0.0:8080

  # Build every component without serving
  nimbus run --dry-run`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override server.listen_address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component, then exit")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.WrapConfigError(err)
	}

	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	svc, err := nimbus.New(ctx, cfg, nimbus.Options{
		Logger:         logger,
		Metrics:        collector,
		TracerProvider: tracer.Provider(),
		Version:        Version,
	})
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return cli.NewCommandError("run", errors.Join(err, tracer.Shutdown(shutdownCtx)))
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(svc.Shutdown(shutdownCtx), tracer.Shutdown(shutdownCtx))
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, all components initialized")
		return shutdown()
	}

	srv, err := server.New(svc, collector, logger)
	if err != nil {
		_ = shutdown()
		return cli.NewCommandError("run", err)
	}
	if err := svc.Start(ctx); err != nil {
		_ = shutdown()
		return cli.NewCommandError("run", err)
	}

	logger.Info("nimbus started",
		"version", Version,
		"config", cfgFile,
		"listen_address", cfg.Server.ListenAddress,
		"environment", cfg.Deployment.Environment,
		"tiers", len(cfg.Tiers),
		"tracing", tracer.Enabled(),
	)

	serveErr := srv.Start(ctx)
	logger.Info("shutting down")
	if err := shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	if serveErr != nil {
		return cli.NewCommandError("run", serveErr)
	}
	return nil
}
