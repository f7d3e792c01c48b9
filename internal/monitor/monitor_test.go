package monitor

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gambitfleet/gambit/internal/registry"
)

func TestWorkerIDFromFile(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"game_abc123.json", "abc123"},
		{"/some/dir/game_w1.json", "w1"},
		{"metadata_game_abc123.json", ""},
		{"game_abc123.tmp", ""},
		{"notes.txt", ""},
		{"game_.json", ""},
	}
	for _, tt := range tests {
		if got := workerIDFromFile(tt.name); got != tt.want {
			t.Errorf("workerIDFromFile(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	md := Metadata{
		WorkerID:   "w1",
		Role:       "aggressive",
		InstanceID: "inst_1",
		AssignedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := WriteMetadata(dir, md); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	got := ReadMetadata(dir, "w1")
	if got != md {
		t.Errorf("ReadMetadata() = %+v, want %+v", got, md)
	}
}

func TestReadMetadataMissing(t *testing.T) {
	got := ReadMetadata(t.TempDir(), "ghost")
	if got.WorkerID != "ghost" || got.Role != "" || got.InstanceID != "" {
		t.Errorf("ReadMetadata() for missing sidecar = %+v, want bare worker id", got)
	}
}

func TestNewValidation(t *testing.T) {
	reg := registry.New(time.Minute)

	if _, err := New(Opts{PublishDir: "x"}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(Opts{Registry: reg}); err == nil {
		t.Error("New() without publish dir should fail")
	}
	if _, err := New(Opts{Registry: reg, PublishDir: "x", PruneSchedule: "bogus"}); err == nil {
		t.Error("New() with invalid schedule should fail")
	}

	m, err := New(Opts{Registry: reg, PublishDir: "x"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.refresh != time.Second {
		t.Errorf("default refresh = %s, want 1s", m.refresh)
	}
	if m.pruneSchedule != "* * * * *" {
		t.Errorf("default prune schedule = %q", m.pruneSchedule)
	}
}

func TestRescanPopulatesRegistry(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "w1", `{"moves": 4}`)
	writeSnapshot(t, dir, "w2", `{"moves": 9}`)
	if err := WriteMetadata(dir, Metadata{WorkerID: "w1", Role: "defensive", InstanceID: "inst_7"}); err != nil {
		t.Fatal(err)
	}
	// Temp and sidecar files must not become workers.
	if err := os.WriteFile(filepath.Join(dir, "game_w3.tmp"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := registry.New(time.Minute)
	m := mustMonitor(t, reg, dir)
	m.Rescan()

	visible := reg.ListVisible()
	if len(visible) != 2 {
		t.Fatalf("ListVisible() returned %d entries, want 2", len(visible))
	}
	if visible[0].ID != "w1" || visible[1].ID != "w2" {
		t.Errorf("visible ids = %s, %s", visible[0].ID, visible[1].ID)
	}
	if visible[0].Metadata.Role != "defensive" || visible[0].Metadata.InstanceID != "inst_7" {
		t.Errorf("w1 metadata = %+v, sidecar not absorbed", visible[0].Metadata)
	}
	if visible[1].Metadata.Role != "" {
		t.Errorf("w2 without sidecar got role %q", visible[1].Metadata.Role)
	}
}

func TestRescanUnchangedIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "w1", `{"moves": 4}`)

	reg := registry.New(time.Minute)
	m := mustMonitor(t, reg, dir)

	m.Rescan()
	rev := reg.Rev()
	for i := 0; i < 3; i++ {
		m.Rescan()
	}
	if reg.Rev() != rev {
		t.Errorf("rev moved from %d to %d on unchanged rescans", rev, reg.Rev())
	}

	writeSnapshot(t, dir, "w1", `{"moves": 5}`)
	m.Rescan()
	entry, ok := reg.Get("w1")
	if !ok {
		t.Fatal("w1 missing after rescan")
	}
	if string(entry.Snapshot.Raw) != `{"moves": 5}` {
		t.Errorf("snapshot not refreshed: %s", entry.Snapshot.Raw)
	}
}

func TestRescanUsesFileTime(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "w1", `{"moves": 4}`)
	mtime := time.Now().Add(-10 * time.Second)
	chtimesSnapshot(t, dir, "w1", mtime)

	reg := registry.New(time.Minute)
	m := mustMonitor(t, reg, dir)
	m.Rescan()

	entry, ok := reg.Get("w1")
	if !ok {
		t.Fatal("w1 missing after rescan")
	}
	if d := entry.Snapshot.CapturedAt.Sub(mtime); d < -time.Second || d > time.Second {
		t.Errorf("CapturedAt = %s, want file mtime %s", entry.Snapshot.CapturedAt, mtime)
	}
}

func TestRescanDoesNotResurrectPrunedWorker(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "w1", `{"moves": 4}`)

	reg := registry.New(30 * time.Second)
	m := mustMonitor(t, reg, dir)
	m.Rescan()
	if _, ok := reg.Get("w1"); !ok {
		t.Fatal("w1 missing after initial rescan")
	}

	// The worker stops publishing; its file ages out of the window.
	chtimesSnapshot(t, dir, "w1", time.Now().Add(-time.Minute))
	if removed := reg.Prune(time.Now()); len(removed) != 1 {
		t.Fatalf("Prune removed %v, want w1", removed)
	}
	rev := reg.Rev()

	for i := 0; i < 3; i++ {
		m.Rescan()
	}
	if _, ok := reg.Get("w1"); ok {
		t.Error("pruned worker visible again after rescan")
	}
	if reg.Rev() != rev {
		t.Errorf("rev moved from %d to %d, membership churned", rev, reg.Rev())
	}

	// A fresh publish brings it back.
	writeSnapshot(t, dir, "w1", `{"moves": 5}`)
	m.Rescan()
	if _, ok := reg.Get("w1"); !ok {
		t.Error("freshly published worker not absorbed")
	}
}

func TestRescanSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "w1", `{"moves": 4`)

	reg := registry.New(time.Minute)
	m := mustMonitor(t, reg, dir)
	m.Rescan()

	if got := len(reg.ListVisible()); got != 0 {
		t.Errorf("malformed snapshot produced %d entries, want 0", got)
	}
}

func writeSnapshot(t *testing.T, dir, workerID, content string) {
	t.Helper()
	path := filepath.Join(dir, "game_"+workerID+".json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func chtimesSnapshot(t *testing.T, dir, workerID string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, "game_"+workerID+".json")
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func mustMonitor(t *testing.T, reg *registry.Registry, dir string) *Monitor {
	t.Helper()
	m, err := New(Opts{Registry: reg, PublishDir: dir, Out: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	return m
}
