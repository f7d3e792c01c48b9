package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gambitfleet/gambit/internal/cloud"
	"github.com/gambitfleet/gambit/internal/models"
)

// Teardown releases the run's cloud resources best effort: every stop or
// delete is attempted and counted, nothing aborts on first failure. With
// keep set it only records that resources were left running.
func (o *Orchestrator) Teardown(ctx context.Context, run *models.Run, keep bool) {
	if keep {
		run.KeptResources = true
		fmt.Fprintf(o.out, "Keeping instances and snapshots for run %s\n", run.ID)
		return
	}

	stoppedOK, stoppedFail := StopAllInstances(ctx, o.provider, o.out)
	deletedOK, deletedFail := DeleteAllSnapshots(ctx, o.provider, o.out)
	run.TeardownOK = stoppedOK + deletedOK
	run.TeardownFailed = stoppedFail + deletedFail

	// Workers that never reached a terminal status are terminated with
	// their instances.
	now := time.Now()
	if err := o.db.Model(&models.Worker{}).
		Where("run_id = ? AND status NOT IN ?", run.ID, []string{
			models.StatusInactive, models.StatusTimedOut,
			models.StatusErrored, models.StatusTerminated,
		}).
		Updates(map[string]any{"status": models.StatusTerminated, "finished_at": now}).Error; err != nil {
		log.Printf("orchestrator: terminate workers for run %s: %v", run.ID, err)
	}
}

// StopAllInstances stops every instance the provider reports.
func StopAllInstances(ctx context.Context, p cloud.Provider, out io.Writer) (ok, failed int) {
	instances, err := p.ListInstances(ctx)
	if err != nil {
		fmt.Fprintf(out, "Failed to list instances: %v\n", err)
		return 0, 1
	}
	for _, inst := range instances {
		if err := p.StopInstance(ctx, inst.ID); err != nil {
			fmt.Fprintf(out, "Failed to stop instance %s: %v\n", inst.ID, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "Stopped instance %s\n", inst.ID)
		ok++
	}
	return ok, failed
}

// DeleteAllSnapshots deletes every snapshot the provider reports.
func DeleteAllSnapshots(ctx context.Context, p cloud.Provider, out io.Writer) (ok, failed int) {
	snapshots, err := p.ListSnapshots(ctx)
	if err != nil {
		fmt.Fprintf(out, "Failed to list snapshots: %v\n", err)
		return 0, 1
	}
	for _, snap := range snapshots {
		if err := p.DeleteSnapshot(ctx, snap.ID); err != nil {
			fmt.Fprintf(out, "Failed to delete snapshot %s: %v\n", snap.ID, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "Deleted snapshot %s\n", snap.ID)
		ok++
	}
	return ok, failed
}
