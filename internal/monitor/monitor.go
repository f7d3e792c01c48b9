// Package monitor feeds the registry from the local publish directory.
//
// It is the out-of-process presenter path: a `gambit run` elsewhere publishes
// snapshots into the directory, and the monitor picks up rename events plus a
// periodic rescan, so the dashboard can run on a separate machine from the
// orchestrator as long as they share the directory.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gambitfleet/gambit/internal/fingerprint"
	"github.com/gambitfleet/gambit/internal/registry"
)

// Metadata is the sidecar file written once per worker at assignment time.
type Metadata struct {
	WorkerID   string    `json:"worker_id"`
	Role       string    `json:"role"`
	InstanceID string    `json:"instance_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// MetadataPath returns the deterministic sidecar path for a worker id.
func MetadataPath(publishDir, workerID string) string {
	return filepath.Join(publishDir, "metadata_game_"+workerID+".json")
}

// WriteMetadata writes a worker's sidecar file. It is written once and
// treated as read-only afterwards.
func WriteMetadata(publishDir string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("monitor: marshal metadata: %w", err)
	}
	path := MetadataPath(publishDir, md.WorkerID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("monitor: write metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads a worker's sidecar file, returning a zero Metadata when
// the file is absent (the worker is still presentable, just unlabeled).
func ReadMetadata(publishDir, workerID string) Metadata {
	data, err := os.ReadFile(MetadataPath(publishDir, workerID))
	if err != nil {
		return Metadata{WorkerID: workerID}
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{WorkerID: workerID}
	}
	return md
}

// workerIDFromFile extracts the worker id from a publish filename, returning
// "" for files that are not worker snapshots (sidecars, temp files).
func workerIDFromFile(name string) string {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "game_") || !strings.HasSuffix(base, ".json") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, "game_"), ".json")
}

// Opts holds parameters for creating a Monitor.
type Opts struct {
	Registry        *registry.Registry
	PublishDir      string
	RefreshInterval time.Duration
	PruneSchedule   string
	Out             io.Writer
}

// Monitor watches the publish directory and keeps the registry current.
type Monitor struct {
	reg           *registry.Registry
	publishDir    string
	refresh       time.Duration
	pruneSchedule string
	out           io.Writer
}

// New creates a Monitor.
func New(opts Opts) (*Monitor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("monitor: registry is required")
	}
	if opts.PublishDir == "" {
		return nil, fmt.Errorf("monitor: publish dir is required")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Second
	}
	if opts.PruneSchedule == "" {
		opts.PruneSchedule = "* * * * *"
	}
	if !validSchedule(opts.PruneSchedule) {
		return nil, fmt.Errorf("monitor: invalid prune schedule %q", opts.PruneSchedule)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Monitor{
		reg:           opts.Registry,
		publishDir:    opts.PublishDir,
		refresh:       opts.RefreshInterval,
		pruneSchedule: opts.PruneSchedule,
		out:           opts.Out,
	}, nil
}

// Run watches until ctx is cancelled. Rename events from publishing
// replicators arrive via fsnotify; a periodic rescan catches anything the
// watcher missed; pruning runs on the cron schedule.
func (m *Monitor) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.publishDir, 0o755); err != nil {
		return fmt.Errorf("monitor: create publish dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.publishDir); err != nil {
		return fmt.Errorf("monitor: watch %s: %w", m.publishDir, err)
	}

	m.Rescan()
	fmt.Fprintf(m.out, "Monitoring %s (refresh %s)\n", m.publishDir, m.refresh)

	refreshTicker := time.NewTicker(m.refresh)
	defer refreshTicker.Stop()

	pruneTimer := time.NewTimer(nextCronDuration(m.pruneSchedule))
	defer pruneTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if id := workerIDFromFile(ev.Name); id != "" {
				m.absorb(id)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("monitor: watcher: %v", err)

		case <-refreshTicker.C:
			m.Rescan()

		case <-pruneTimer.C:
			if removed := m.reg.Prune(time.Now()); len(removed) > 0 {
				fmt.Fprintf(m.out, "Pruned stale workers: %s\n", strings.Join(removed, ", "))
			}
			pruneTimer.Reset(nextCronDuration(m.pruneSchedule))
		}
	}
}

// Rescan walks the publish directory and absorbs every worker snapshot found.
// Upsert dedupes on fingerprint, so rescanning unchanged files is free.
func (m *Monitor) Rescan() {
	entries, err := os.ReadDir(m.publishDir)
	if err != nil {
		log.Printf("monitor: scan %s: %v", m.publishDir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id := workerIDFromFile(e.Name()); id != "" {
			m.absorb(id)
		}
	}
}

// absorb reads one worker's published snapshot and upserts it. The snapshot's
// CapturedAt is the publish file's mtime, not the scan time: the file outlives
// the worker on disk, and stamping scan time would resurrect every pruned
// worker on the next rescan.
func (m *Monitor) absorb(workerID string) {
	path := filepath.Join(m.publishDir, "game_"+workerID+".json")
	info, err := os.Stat(path)
	if err != nil {
		// Published file may have been pruned between event and read.
		return
	}
	capturedAt := info.ModTime()
	if v := m.reg.Visibility(); v > 0 && !capturedAt.After(time.Now().Add(-v)) {
		// Already outside the visibility window; stale files stay pruned.
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if !json.Valid(data) {
		log.Printf("monitor: malformed snapshot for worker %s", workerID)
		return
	}

	md := ReadMetadata(m.publishDir, workerID)
	changed := m.reg.Upsert(workerID, registry.Snapshot{
		Raw:         data,
		Fingerprint: fingerprint.Sum(data),
		CapturedAt:  capturedAt,
	}, registry.Metadata{Role: md.Role, InstanceID: md.InstanceID})

	if changed {
		fmt.Fprintf(m.out, "Worker %s updated\n", workerID)
	}
}
