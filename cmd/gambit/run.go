package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gambitfleet/gambit/internal/dashboard"
	"github.com/gambitfleet/gambit/internal/orchestrator"
	"github.com/gambitfleet/gambit/internal/registry"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		games      int
		keep       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a fleet of chess games",
		Long:  "Provisions a base instance, branches one clone per game, plays the games in parallel while replicating their state locally, then tears everything down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, games, keep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gambit.yaml", "path to Gambit config file")
	cmd.Flags().IntVar(&games, "games", 0, "number of games (default: fleet.games from config)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep instances and snapshots after the run")
	return cmd
}

func runRun(cmd *cobra.Command, configPath string, games int, keep bool) error {
	cfg, gormDB, err := loadSetup(configPath)
	if err != nil {
		return err
	}
	if games > 0 {
		cfg.Fleet.Games = games
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.Registry.Visibility())
	out := cmd.OutOrStdout()

	orch, err := orchestrator.New(orchestrator.Opts{
		Config:   cfg,
		Provider: provider,
		DB:       gormDB,
		Registry: reg,
		Notifier: notifier,
		Out:      out,
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
		fmt.Fprintf(out, "\nReceived %s, stopping run...\n", sig)
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:       gormDB,
				Registry: reg,
				Port:     cfg.Dashboard.Port,
				Out:      out,
			}); err != nil {
				fmt.Fprintf(out, "Dashboard stopped: %v\n", err)
			}
		}()
	}

	run, err := orch.Execute(ctx, keep)
	if err != nil {
		return err
	}

	elapsed := time.Duration(0)
	if run.FinishedAt != nil {
		elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second)
	}
	fmt.Fprintf(out, "Run %s finished in %s: %d completed, %d timed out, %d errored, %d publishes\n",
		run.ID, elapsed, run.Completed, run.TimedOut, run.Errored, run.TotalPublishes)
	if !run.KeptResources {
		fmt.Fprintf(out, "Teardown: %d ok, %d failed\n", run.TeardownOK, run.TeardownFailed)
	}
	return nil
}
