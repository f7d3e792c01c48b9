package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gambitfleet/gambit/internal/cloud"
	"github.com/gambitfleet/gambit/internal/models"
	"github.com/gambitfleet/gambit/internal/monitor"
)

// Provision readies the base instance every game will be cloned from. An
// existing instance id in the config short-circuits everything; an existing
// snapshot id skips the snapshot build. Any setup command failing is
// fail-fast: a bad base must never be fanned out.
func (o *Orchestrator) Provision(ctx context.Context) (*cloud.Instance, error) {
	p := o.cfg.Provider

	if p.InstanceID != "" {
		inst, err := o.provider.GetInstance(ctx, p.InstanceID)
		if err != nil {
			return nil, &ProvisioningError{Stage: "get base instance", Err: err}
		}
		fmt.Fprintf(o.out, "Using existing base instance %s\n", inst.ID)
		return inst, nil
	}

	var snap *cloud.Snapshot
	var err error
	if p.SnapshotID != "" {
		snap, err = o.provider.GetSnapshot(ctx, p.SnapshotID)
		if err != nil {
			return nil, &ProvisioningError{Stage: "get snapshot", Err: err}
		}
	} else {
		snap, err = o.provider.CreateSnapshot(ctx, cloud.SnapshotSpec{
			VCPUs:    p.VCPUs,
			MemoryMB: p.MemoryMB,
			DiskMB:   p.DiskMB,
		})
		if err != nil {
			return nil, &ProvisioningError{Stage: "create snapshot", Err: err}
		}
		fmt.Fprintf(o.out, "Snapshot created: %s\n", snap.ID)
	}

	inst, err := o.provider.StartInstance(ctx, snap.ID)
	if err != nil {
		return nil, &ProvisioningError{Stage: "start base instance", Err: err}
	}
	fmt.Fprintf(o.out, "Base instance started: %s\n", inst.ID)

	for _, cmd := range p.SetupCommands {
		res, err := o.provider.Exec(ctx, inst.ID, cmd)
		if err != nil {
			return nil, &ProvisioningError{Stage: fmt.Sprintf("setup %q", cmd), Err: err}
		}
		if res.ExitCode != 0 {
			return nil, &ProvisioningError{
				Stage: fmt.Sprintf("setup %q", cmd),
				Err:   fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
			}
		}
	}

	return inst, nil
}

// FanOut branches the base instance into exactly one clone per game. A
// partial fan-out is unusable: leftover clones are stopped and the branch
// snapshot deleted before reporting failure.
func (o *Orchestrator) FanOut(ctx context.Context, baseInstanceID string) (*cloud.Snapshot, []*cloud.Instance, error) {
	n := o.cfg.Fleet.Games
	snap, clones, err := o.provider.Branch(ctx, baseInstanceID, n)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: branch %s: %w", baseInstanceID, err)
	}
	if len(clones) != n {
		for _, c := range clones {
			if stopErr := o.provider.StopInstance(ctx, c.ID); stopErr != nil {
				fmt.Fprintf(o.out, "Failed to stop partial clone %s: %v\n", c.ID, stopErr)
			}
		}
		if snap != nil {
			if delErr := o.provider.DeleteSnapshot(ctx, snap.ID); delErr != nil {
				fmt.Fprintf(o.out, "Failed to delete branch snapshot %s: %v\n", snap.ID, delErr)
			}
		}
		return nil, nil, fmt.Errorf("orchestrator: branch returned %d clones, want %d", len(clones), n)
	}

	ids := make([]string, len(clones))
	for i, c := range clones {
		ids[i] = c.ID
	}
	fmt.Fprintf(o.out, "Clones created from snapshot %s: %s\n", snap.ID, strings.Join(ids, ", "))
	return snap, clones, nil
}

// Assign gives each clone a worker identity: a fresh id, a role from the
// configured rotation, instance metadata on the provider side, a local
// metadata sidecar for the presenter, and a durable worker row.
func (o *Orchestrator) Assign(ctx context.Context, run *models.Run, clones []*cloud.Instance) ([]*models.Worker, error) {
	if err := os.MkdirAll(o.cfg.Paths.PublishDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: create publish dir: %w", err)
	}

	now := time.Now()
	workers := make([]*models.Worker, len(clones))
	for i, clone := range clones {
		id, err := GenerateWorkerID()
		if err != nil {
			return nil, err
		}
		role := o.cfg.RoleFor(i)

		if err := o.provider.SetMetadata(ctx, clone.ID, map[string]string{
			"worker_id": id,
			"role":      role,
			"run_id":    run.ID,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: set metadata on %s: %w", clone.ID, err)
		}

		if err := monitor.WriteMetadata(o.cfg.Paths.PublishDir, monitor.Metadata{
			WorkerID:   id,
			Role:       role,
			InstanceID: clone.ID,
			AssignedAt: now,
		}); err != nil {
			return nil, err
		}

		w := &models.Worker{
			ID:           id,
			RunID:        run.ID,
			InstanceID:   clone.ID,
			SnapshotID:   run.SnapshotID,
			Role:         role,
			Status:       models.StatusProvisioning,
			StartedAt:    now,
			LastActivity: now,
		}
		if err := o.db.Create(w).Error; err != nil {
			return nil, fmt.Errorf("orchestrator: create worker row %s: %w", id, err)
		}
		workers[i] = w
		fmt.Fprintf(o.out, "Worker %s assigned to instance %s (role %s)\n", id, clone.ID, role)
	}
	return workers, nil
}
