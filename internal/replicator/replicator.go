// Package replicator mirrors one remote worker's state file to the local
// publish directory.
//
// Each replicator polls its worker's autosave file, fingerprints the content,
// and publishes a local copy only when the fingerprint changes. Publishing is
// tmp-then-rename so a concurrent reader never sees a partial blob. The
// replicator is the sole writer for its worker's publish path.
package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gambitfleet/gambit/internal/cloud"
	"github.com/gambitfleet/gambit/internal/fingerprint"
	"github.com/gambitfleet/gambit/internal/registry"
)

// Default replication thresholds.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultInactivityTimeout = 20 * time.Second
	DefaultMaxUnchanged      = 15
	DefaultDeadline          = 60 * time.Second
)

// Config holds configurable replication thresholds.
type Config struct {
	// PollInterval is the fixed delay between polls.
	PollInterval time.Duration
	// InactivityTimeout stops the replicator when no fingerprint change has
	// been observed for this long. Measured from the last change, not the
	// last poll.
	InactivityTimeout time.Duration
	// MaxUnchanged stops the replicator after this many consecutive polls
	// that fetched content without a new fingerprint.
	MaxUnchanged int
	// Deadline bounds the replicator's total wall-clock runtime.
	Deadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.MaxUnchanged <= 0 {
		c.MaxUnchanged = DefaultMaxUnchanged
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
}

// Outcome is the terminal state of a finished replicator.
type Outcome string

const (
	// OutcomeInactive means the worker stopped producing new output: either
	// the inactivity window elapsed or the unchanged-poll limit was hit.
	OutcomeInactive Outcome = "inactive"
	// OutcomeTimedOut means the overall deadline elapsed regardless of activity.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeCancelled means the surrounding run was cancelled.
	OutcomeCancelled Outcome = "cancelled"
)

// Result summarizes one replicator's run.
type Result struct {
	WorkerID        string
	Outcome         Outcome
	Publishes       int
	LastFingerprint string
	Elapsed         time.Duration
}

// Source fetches one worker's remote state blob. It is the replicator's
// read-only view of the cloud provider.
type Source interface {
	FetchFile(ctx context.Context, instanceID, remotePath, localPath string) error
}

// Opts holds parameters for creating a Replicator.
type Opts struct {
	WorkerID   string
	InstanceID string
	RemotePath string
	PublishDir string
	Source     Source
	Config     Config
	// OnPublish, if set, is called after each accepted snapshot has been
	// atomically published.
	OnPublish func(snap registry.Snapshot)
	Out       io.Writer
}

// Replicator mirrors one worker's remote state file locally.
type Replicator struct {
	workerID    string
	instanceID  string
	remotePath  string
	publishPath string
	tempPath    string
	source      Source
	cfg         Config
	onPublish   func(registry.Snapshot)
	out         io.Writer

	lastFingerprint string

	// Injected for tests; real time otherwise.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Replicator for one worker. The temp file lives under
// PublishDir so the final rename stays on one filesystem.
func New(opts Opts) (*Replicator, error) {
	if opts.WorkerID == "" {
		return nil, fmt.Errorf("replicator: worker ID is required")
	}
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("replicator: instance ID is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("replicator: source is required")
	}
	if opts.PublishDir == "" {
		return nil, fmt.Errorf("replicator: publish dir is required")
	}
	opts.Config.applyDefaults()
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	tempDir := filepath.Join(opts.PublishDir, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("replicator: create temp dir: %w", err)
	}

	return &Replicator{
		workerID:    opts.WorkerID,
		instanceID:  opts.InstanceID,
		remotePath:  opts.RemotePath,
		publishPath: PublishPath(opts.PublishDir, opts.WorkerID),
		tempPath:    filepath.Join(tempDir, "game_"+opts.WorkerID+".json"),
		source:      opts.Source,
		cfg:         opts.Config,
		onPublish:   opts.OnPublish,
		out:         opts.Out,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

// PublishPath returns the deterministic local publish path for a worker id.
func PublishPath(publishDir, workerID string) string {
	return filepath.Join(publishDir, "game_"+workerID+".json")
}

// Run polls the worker until a terminal state is reached. It never returns a
// transfer error: transient failures are retried until the deadline, and
// per-worker trouble ends in an Outcome rather than an error that could
// disturb sibling workers.
func (r *Replicator) Run(ctx context.Context) *Result {
	start := r.now()
	lastActivity := start
	unchanged := 0
	publishes := 0

	fmt.Fprintf(r.out, "Sync started for worker %s (instance %s)\n", r.workerID, r.instanceID)

	finish := func(outcome Outcome) *Result {
		elapsed := r.now().Sub(start)
		fmt.Fprintf(r.out, "Sync complete for worker %s: outcome=%s publishes=%d elapsed=%s\n",
			r.workerID, outcome, publishes, elapsed.Round(time.Millisecond))
		return &Result{
			WorkerID:        r.workerID,
			Outcome:         outcome,
			Publishes:       publishes,
			LastFingerprint: r.lastFingerprint,
			Elapsed:         elapsed,
		}
	}

	for {
		if ctx.Err() != nil {
			return finish(OutcomeCancelled)
		}
		if r.now().Sub(start) >= r.cfg.Deadline {
			return finish(OutcomeTimedOut)
		}

		err := r.source.FetchFile(ctx, r.instanceID, r.remotePath, r.tempPath)
		switch {
		case err == nil:
			published, fresh := r.inspect()
			if published {
				lastActivity = r.now()
				unchanged = 0
				publishes++
			} else if fresh {
				unchanged++
			}
		case errors.Is(err, cloud.ErrNotFound):
			// Worker hasn't written its first autosave yet, or it is gone.
			// The inactivity clock below decides; a not-found poll is not
			// evidence the worker finished.
		case ctx.Err() != nil:
			return finish(OutcomeCancelled)
		default:
			log.Printf("replicator %s: fetch: %v", r.workerID, err)
		}

		if unchanged > r.cfg.MaxUnchanged {
			return finish(OutcomeInactive)
		}
		if r.now().Sub(lastActivity) >= r.cfg.InactivityTimeout {
			return finish(OutcomeInactive)
		}

		r.sleep(ctx, r.cfg.PollInterval)
	}
}

// inspect examines the fetched temp file and publishes it when it carries a
// new fingerprint. published reports an accepted publish; fresh reports a
// well-formed blob (malformed blobs count as unchanged too — they must never
// clobber the last good copy, but a worker stuck writing garbage is as done
// as one re-writing identical content).
func (r *Replicator) inspect() (published, fresh bool) {
	data, err := os.ReadFile(r.tempPath)
	if err != nil {
		log.Printf("replicator %s: read temp: %v", r.workerID, err)
		return false, false
	}
	if !json.Valid(data) {
		log.Printf("replicator %s: malformed snapshot, keeping last good copy", r.workerID)
		return false, true
	}

	fp := fingerprint.Sum(data)
	if fp == r.lastFingerprint {
		return false, true
	}

	if err := os.Rename(r.tempPath, r.publishPath); err != nil {
		log.Printf("replicator %s: publish: %v", r.workerID, err)
		return false, false
	}

	r.lastFingerprint = fp
	fmt.Fprintf(r.out, "Worker %s state changed (%d bytes)\n", r.workerID, len(data))

	if r.onPublish != nil {
		r.onPublish(registry.Snapshot{
			Raw:         data,
			Fingerprint: fp,
			CapturedAt:  r.now(),
		})
	}
	return true, true
}

// sleepWithContext sleeps for duration d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
