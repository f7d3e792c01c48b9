package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gambitfleet/gambit/internal/db"
	"github.com/gambitfleet/gambit/internal/models"
)

func testStatusDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestPrintWorkers(t *testing.T) {
	gdb := testStatusDB(t)
	gdb.Create(&models.Worker{
		ID: "g-1a2b3", RunID: "run-x", Role: "aggressive",
		Status: models.StatusInactive, PublishCount: 9,
		StartedAt: time.Now(), LastActivity: time.Now().Add(-30 * time.Second),
	})
	gdb.Create(&models.Worker{
		ID: "g-9z8y7", RunID: "run-x", Role: "defensive",
		Status: models.StatusErrored, Error: "agent exited 1: boom",
		StartedAt: time.Now(), LastActivity: time.Now(),
	})

	buf := new(bytes.Buffer)
	if err := printWorkers(buf, gdb, "run-x"); err != nil {
		t.Fatalf("printWorkers() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"g-1a2b3", "aggressive", "inactive", "g-9z8y7", "errored", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintWorkers_EmptyRun(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := printWorkers(buf, testStatusDB(t), "run-ghost"); err != nil {
		t.Fatalf("printWorkers() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No workers") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestHumanSince(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "-"},
		{time.Now().Add(-10 * time.Second), "10s ago"},
		{time.Now().Add(-5 * time.Minute), "5m ago"},
		{time.Now().Add(-3 * time.Hour), "3h ago"},
	}
	for _, tt := range tests {
		if got := humanSince(tt.t); got != tt.want {
			t.Errorf("humanSince(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
