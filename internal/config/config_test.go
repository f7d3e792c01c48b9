package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
provider:
  base_url: https://api.example.test
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Fleet.Games != 3 {
		t.Errorf("Fleet.Games = %d, want 3", cfg.Fleet.Games)
	}
	if cfg.Fleet.MaxGames != 16 {
		t.Errorf("Fleet.MaxGames = %d, want 16", cfg.Fleet.MaxGames)
	}
	if len(cfg.Fleet.Roles) != 3 {
		t.Errorf("Fleet.Roles = %v, want 3 defaults", cfg.Fleet.Roles)
	}
	if cfg.Sync.PollEvery() != 500*time.Millisecond {
		t.Errorf("PollEvery = %v, want 500ms", cfg.Sync.PollEvery())
	}
	if cfg.Sync.Inactivity() != 20*time.Second {
		t.Errorf("Inactivity = %v, want 20s", cfg.Sync.Inactivity())
	}
	if cfg.Sync.MaxUnchanged != 15 {
		t.Errorf("MaxUnchanged = %d, want 15", cfg.Sync.MaxUnchanged)
	}
	if cfg.Sync.RunDeadline() != 60*time.Second {
		t.Errorf("RunDeadline = %v, want 60s", cfg.Sync.RunDeadline())
	}
	if cfg.Registry.Visibility() != 30*time.Second {
		t.Errorf("Visibility = %v, want 30s", cfg.Registry.Visibility())
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "gambit.db" {
		t.Errorf("DB defaults = %+v", cfg.DB)
	}
	if cfg.Paths.PublishDir != "autosaves" {
		t.Errorf("PublishDir = %q, want autosaves", cfg.Paths.PublishDir)
	}
}

func TestParse_MissingBaseURL(t *testing.T) {
	_, err := Parse([]byte(`fleet: {games: 2}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider.base_url is required") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
sync:
  poll_interval: often
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_InactivityMustExceedPoll(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
sync:
  poll_interval: 5s
  inactivity_timeout: 2s
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "inactivity_timeout must exceed") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_VisibilityShorterThanInactivity(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
registry:
  visibility_timeout: 5s
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "visibility_timeout") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_UnsupportedDriver(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
db:
  driver: postgres
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Errorf("error = %q", err)
	}
}

func TestRoleFor_Cycles(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
fleet:
  games: 5
  roles: [aggressive, defensive]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []string{"aggressive", "defensive", "aggressive", "defensive", "aggressive"}
	for i, w := range want {
		if got := cfg.RoleFor(i); got != w {
			t.Errorf("RoleFor(%d) = %q, want %q", i, got, w)
		}
	}
}

func TestParse_ExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
provider:
  base_url: https://api.example.test
  snapshot_id: snap-abc123
  vcpus: 2
fleet:
  games: 2
  roles: [balanced]
  remote_dir: app/saves
sync:
  poll_interval: 250ms
  inactivity_timeout: 10s
  max_unchanged: 5
  deadline: 30s
db:
  driver: mysql
  database: gambit_shared
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Provider.SnapshotID != "snap-abc123" {
		t.Errorf("SnapshotID = %q", cfg.Provider.SnapshotID)
	}
	if cfg.Provider.VCPUs != 2 {
		t.Errorf("VCPUs = %d, want 2", cfg.Provider.VCPUs)
	}
	if cfg.Sync.PollEvery() != 250*time.Millisecond {
		t.Errorf("PollEvery = %v", cfg.Sync.PollEvery())
	}
	if cfg.Sync.MaxUnchanged != 5 {
		t.Errorf("MaxUnchanged = %d", cfg.Sync.MaxUnchanged)
	}
	if cfg.DB.Driver != "mysql" || cfg.DB.Database != "gambit_shared" {
		t.Errorf("DB = %+v", cfg.DB)
	}
}
