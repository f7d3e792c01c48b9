package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/gambitfleet/gambit/internal/models"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		runID      string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleet status",
		Long:  "Displays recent runs and their workers from the fleet database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, runID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gambit.yaml", "path to Gambit config file")
	cmd.Flags().StringVar(&runID, "run", "", "show workers for a specific run (default: latest)")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, runID string) error {
	_, gormDB, err := loadSetup(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var runs []models.Run
	if err := gormDB.Order("started_at DESC").Limit(5).Find(&runs).Error; err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	fmt.Fprintln(out, "Recent runs:")
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  RUN\tGAMES\tCOMPLETED\tTIMED OUT\tERRORED\tPUBLISHES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Games, r.Completed, r.TimedOut, r.Errored, r.TotalPublishes,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	tw.Flush()

	if runID == "" {
		runID = runs[0].ID
	}
	return printWorkers(out, gormDB, runID)
}

func printWorkers(out io.Writer, gormDB *gorm.DB, runID string) error {
	var workers []models.Worker
	if err := gormDB.Where("run_id = ?", runID).Order("id ASC").Find(&workers).Error; err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		fmt.Fprintf(out, "\nNo workers for run %s.\n", runID)
		return nil
	}

	fmt.Fprintf(out, "\nWorkers for run %s:\n", runID)
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  WORKER\tROLE\tSTATUS\tPUBLISHES\tLAST ACTIVITY\tERROR")
	for _, w := range workers {
		errText := w.Error
		if len(errText) > 40 {
			errText = errText[:37] + "..."
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\t%s\n",
			w.ID, w.Role, w.Status, w.PublishCount,
			humanSince(w.LastActivity), errText)
	}
	return tw.Flush()
}

// humanSince renders how long ago t was, compactly.
func humanSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}
