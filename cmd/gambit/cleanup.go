package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gambitfleet/gambit/internal/orchestrator"
)

func newCleanupCmd() *cobra.Command {
	var (
		configPath string
		instances  bool
		snapshots  bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Stop all instances and delete all snapshots",
		Long:  "Bulk-releases provider resources, typically after a run with --keep or an aborted run. By default both instances and snapshots are cleaned; use --instances or --snapshots to restrict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Neither flag means both.
			if !instances && !snapshots {
				instances, snapshots = true, true
			}
			return runCleanup(cmd, configPath, instances, snapshots, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gambit.yaml", "path to Gambit config file")
	cmd.Flags().BoolVar(&instances, "instances", false, "stop all instances")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "delete all snapshots")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func runCleanup(cmd *cobra.Command, configPath string, instances, snapshots, force bool) error {
	cfg, _, err := loadSetup(configPath)
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := context.Background()

	if !force {
		var targets []string
		if instances {
			insts, err := provider.ListInstances(ctx)
			if err != nil {
				return fmt.Errorf("list instances: %w", err)
			}
			for _, inst := range insts {
				fmt.Fprintf(out, "  instance %s (%s)\n", inst.ID, inst.Status)
			}
			targets = append(targets, fmt.Sprintf("%d instance(s)", len(insts)))
		}
		if snapshots {
			snaps, err := provider.ListSnapshots(ctx)
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}
			for _, snap := range snaps {
				fmt.Fprintf(out, "  snapshot %s\n", snap.ID)
			}
			targets = append(targets, fmt.Sprintf("%d snapshot(s)", len(snaps)))
		}
		fmt.Fprintf(out, "This will release %s at %s. Continue? [y/N] ",
			strings.Join(targets, " and "), cfg.Provider.BaseURL)

		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var ok, failed int
	if instances {
		o, f := orchestrator.StopAllInstances(ctx, provider, out)
		ok += o
		failed += f
	}
	if snapshots {
		o, f := orchestrator.DeleteAllSnapshots(ctx, provider, out)
		ok += o
		failed += f
	}

	fmt.Fprintf(out, "Cleanup finished: %d released, %d failed\n", ok, failed)
	if failed > 0 {
		return fmt.Errorf("cleanup: %d resource(s) could not be released", failed)
	}
	return nil
}
