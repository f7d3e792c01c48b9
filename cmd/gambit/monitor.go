package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gambitfleet/gambit/internal/dashboard"
	"github.com/gambitfleet/gambit/internal/monitor"
	"github.com/gambitfleet/gambit/internal/registry"
)

func newMonitorCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch the publish directory and serve the dashboard",
		Long:  "Feeds the registry from published game files (written by a gambit run here or on another machine sharing the directory) and serves the live dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gambit.yaml", "path to Gambit config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "dashboard port (default: dashboard.port from config)")
	return cmd
}

func runMonitor(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := loadSetup(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	reg := registry.New(cfg.Registry.Visibility())
	out := cmd.OutOrStdout()

	mon, err := monitor.New(monitor.Opts{
		Registry:        reg,
		PublishDir:      cfg.Paths.PublishDir,
		RefreshInterval: cfg.Registry.Refresh(),
		PruneSchedule:   cfg.Registry.PruneSchedule,
		Out:             out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	monErrCh := make(chan error, 1)
	go func() { monErrCh <- mon.Run(ctx) }()

	if err := dashboard.Start(ctx, dashboard.StartOpts{
		DB:       gormDB,
		Registry: reg,
		Port:     port,
		Out:      out,
	}); err != nil {
		return err
	}
	return <-monErrCh
}
