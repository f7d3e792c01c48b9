package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gambitfleet/gambit/internal/models"
	"github.com/gambitfleet/gambit/internal/notify"
	"github.com/gambitfleet/gambit/internal/registry"
	"github.com/gambitfleet/gambit/internal/replicator"
)

// Execute performs a complete fleet run: provision, fan out, assign, play
// and replicate all games, tear down, persist and announce the summary.
// Teardown runs even when an earlier stage failed, unless keep is set.
func (o *Orchestrator) Execute(ctx context.Context, keep bool) (*models.Run, error) {
	// Partially-started fleets are disallowed: refuse oversized runs before
	// touching any provider resource.
	if o.cfg.Fleet.Games > o.cfg.Fleet.MaxGames {
		return nil, &ProvisioningError{
			Stage: "capacity",
			Err:   fmt.Errorf("%d games requested, fleet.max_games is %d", o.cfg.Fleet.Games, o.cfg.Fleet.MaxGames),
		}
	}

	runID, err := GenerateRunID()
	if err != nil {
		return nil, err
	}
	run := &models.Run{
		ID:        runID,
		Games:     o.cfg.Fleet.Games,
		StartedAt: time.Now(),
	}
	if err := o.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: create run row: %w", err)
	}

	runErr := o.execute(ctx, run)

	// A cancelled run must still release its resources: teardown and the
	// summary run detached from the run's cancellation, otherwise every
	// provider call after SIGINT fails immediately and the fleet is orphaned.
	cleanupCtx := context.WithoutCancel(ctx)
	o.Teardown(cleanupCtx, run, keep)

	now := time.Now()
	run.FinishedAt = &now
	if err := o.db.Save(run).Error; err != nil {
		log.Printf("orchestrator: save run %s: %v", run.ID, err)
	}

	if o.notifier != nil {
		ev := notify.RunFinished(*run, now.Sub(run.StartedAt))
		if err := o.notifier.Post(cleanupCtx, ev); err != nil {
			log.Printf("orchestrator: notify run %s: %v", run.ID, err)
		}
	}

	return run, runErr
}

func (o *Orchestrator) execute(ctx context.Context, run *models.Run) error {
	base, err := o.Provision(ctx)
	if err != nil {
		return err
	}

	snap, clones, err := o.FanOut(ctx, base.ID)
	if err != nil {
		return err
	}
	run.SnapshotID = snap.ID

	workers, err := o.Assign(ctx, run, clones)
	if err != nil {
		return err
	}

	o.RunAll(ctx, run, workers)
	return nil
}

// workerOutcome is the joined result of one worker's game task and replicator.
type workerOutcome struct {
	result  *replicator.Result
	taskErr error
}

// RunAll plays and replicates every worker concurrently and waits for all of
// them, then rolls the outcomes up into the run. One worker failing never
// disturbs its siblings.
func (o *Orchestrator) RunAll(ctx context.Context, run *models.Run, workers []*models.Worker) {
	outcomes := make([]workerOutcome, len(workers))

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = o.runWorker(ctx, workers[i])
		}(i)
	}
	wg.Wait()

	for i, oc := range outcomes {
		w := workers[i]
		if oc.result != nil {
			run.TotalPublishes += oc.result.Publishes
		}

		if oc.taskErr != nil {
			run.Errored++
			w.Error = oc.taskErr.Error()
			if err := o.db.Model(&models.Worker{}).Where("id = ?", w.ID).
				Update("error", w.Error).Error; err != nil {
				log.Printf("orchestrator: record error for %s: %v", w.ID, err)
			}
			o.transition(w, models.StatusErrored)
			if o.notifier != nil {
				if err := o.notifier.Post(ctx, notify.WorkerFailed(*w, oc.taskErr)); err != nil {
					log.Printf("orchestrator: notify worker %s: %v", w.ID, err)
				}
			}
			continue
		}

		switch oc.result.Outcome {
		case replicator.OutcomeInactive:
			run.Completed++
			o.transition(w, models.StatusInactive)
		case replicator.OutcomeTimedOut:
			run.TimedOut++
			o.transition(w, models.StatusTimedOut)
		case replicator.OutcomeCancelled:
			o.transition(w, models.StatusTerminated)
		}
	}
}

// runWorker starts the worker's game command and its replicator concurrently
// and waits for both.
func (o *Orchestrator) runWorker(ctx context.Context, w *models.Worker) workerOutcome {
	o.transition(w, models.StatusRunning)

	taskCh := make(chan error, 1)
	go func() { taskCh <- o.playGame(ctx, w) }()

	rep, err := replicator.New(replicator.Opts{
		WorkerID:   w.ID,
		InstanceID: w.InstanceID,
		RemotePath: path.Join(o.cfg.Fleet.RemoteDir, "game_"+w.ID+".json"),
		PublishDir: o.cfg.Paths.PublishDir,
		Source:     o.provider,
		Config: replicator.Config{
			PollInterval:      o.cfg.Sync.PollEvery(),
			InactivityTimeout: o.cfg.Sync.Inactivity(),
			MaxUnchanged:      o.cfg.Sync.MaxUnchanged,
			Deadline:          o.cfg.Sync.RunDeadline(),
		},
		OnPublish: func(snap registry.Snapshot) { o.recordPublish(w, snap) },
		Out:       o.out,
	})
	if err != nil {
		// Replication can't start; the game command is already running and
		// still has to be joined.
		taskErr := <-taskCh
		if taskErr == nil {
			taskErr = err
		}
		return workerOutcome{taskErr: taskErr}
	}

	o.transition(w, models.StatusSyncing)
	result := rep.Run(ctx)
	taskErr := <-taskCh

	return workerOutcome{result: result, taskErr: taskErr}
}

// playGame runs the remote agent for one game and blocks until it exits.
func (o *Orchestrator) playGame(ctx context.Context, w *models.Worker) error {
	appDir := path.Dir(o.cfg.Fleet.RemoteDir)
	saveDir := path.Base(o.cfg.Fleet.RemoteDir)
	cmd := fmt.Sprintf("cd %s && mkdir -p %s && uv run agent.py --game-id %s --moves %d --strategy %s",
		appDir, saveDir, w.ID, o.cfg.Fleet.Moves, w.Role)

	res, err := o.provider.Exec(ctx, w.InstanceID, cmd)
	if err != nil {
		return &WorkerTaskError{WorkerID: w.ID, Err: err}
	}
	if res.ExitCode != 0 {
		return &WorkerTaskError{
			WorkerID: w.ID,
			Err:      fmt.Errorf("agent exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
		}
	}
	return nil
}

// recordPublish runs on the replicator goroutine after each accepted
// snapshot: the live registry gets the new state and the DB gets a publish
// row plus refreshed worker columns.
func (o *Orchestrator) recordPublish(w *models.Worker, snap registry.Snapshot) {
	o.reg.Upsert(w.ID, snap, registry.Metadata{Role: w.Role, InstanceID: w.InstanceID})

	pub := models.Publish{
		WorkerID:    w.ID,
		Fingerprint: snap.Fingerprint,
		SizeBytes:   int64(len(snap.Raw)),
		CapturedAt:  snap.CapturedAt,
	}
	if err := o.db.Create(&pub).Error; err != nil {
		log.Printf("orchestrator: record publish for %s: %v", w.ID, err)
	}

	if err := o.db.Model(&models.Worker{}).Where("id = ?", w.ID).Updates(map[string]any{
		"last_fingerprint": snap.Fingerprint,
		"last_activity":    snap.CapturedAt,
		"publish_count":    gorm.Expr("publish_count + 1"),
	}).Error; err != nil {
		log.Printf("orchestrator: update worker %s: %v", w.ID, err)
	}
}
