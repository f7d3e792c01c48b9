// Package registry holds the merged latest-snapshot view of all workers.
//
// Replicators (or the publish-dir monitor) push snapshots in; the presenter
// reads a stable, deduplicated view out. All access is serialized through one
// mutex: multiple replicators upsert concurrently for different ids, and the
// dashboard lists while they do.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is the replicated payload for one worker at a point in time. The
// raw bytes are opaque to the registry; only the fingerprint drives change
// detection.
type Snapshot struct {
	Raw         []byte
	Fingerprint string
	CapturedAt  time.Time
}

// Metadata labels a worker for presentation without touching the remote side.
type Metadata struct {
	Role       string
	InstanceID string
}

// Entry is one visible worker: its id, metadata, and latest snapshot.
type Entry struct {
	ID       string
	Metadata Metadata
	Snapshot Snapshot
}

// Registry is the authoritative in-memory worker-id → latest-state map.
type Registry struct {
	mu                sync.Mutex
	entries           map[string]Entry
	visibilityTimeout time.Duration
	rev               uint64
}

// New creates a Registry that hides entries not refreshed within
// visibilityTimeout.
func New(visibilityTimeout time.Duration) *Registry {
	return &Registry{
		entries:           make(map[string]Entry),
		visibilityTimeout: visibilityTimeout,
	}
}

// Upsert merges a snapshot for id. A snapshot whose fingerprint matches the
// stored one is a no-op, so re-applying the same snapshot any number of times
// leaves the visible state untouched. Returns true if the visible state
// changed.
func (r *Registry) Upsert(id string, snap Snapshot, md Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.entries[id]
	if exists && prev.Snapshot.Fingerprint == snap.Fingerprint {
		return false
	}

	r.entries[id] = Entry{ID: id, Metadata: md, Snapshot: snap}
	if !exists {
		// Layout only reflows on membership change, not in-place updates.
		r.rev++
	}
	return true
}

// Prune removes entries whose snapshot predates now minus the visibility
// timeout and returns the removed ids.
func (r *Registry) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.visibilityTimeout)
	var removed []string
	for id, e := range r.entries {
		if e.Snapshot.CapturedAt.Before(cutoff) || e.Snapshot.CapturedAt.Equal(cutoff) {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.rev++
		sort.Strings(removed)
	}
	return removed
}

// Visibility returns the visibility timeout entries are pruned against.
func (r *Registry) Visibility() time.Duration {
	return r.visibilityTimeout
}

// ListVisible returns all visible entries ordered by id, so the presenter can
// assign stable layout positions across refreshes.
func (r *Registry) ListVisible() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the entry for id, if visible.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Rev returns the membership revision. It advances only when entries are
// inserted or removed, never on in-place snapshot updates, so presenters can
// re-layout only when membership actually changed.
func (r *Registry) Rev() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rev
}
