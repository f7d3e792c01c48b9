package models

import "time"

// Run summarizes one fleet run from provisioning through teardown.
type Run struct {
	ID             string `gorm:"primaryKey;size:64"`
	SnapshotID     string `gorm:"size:64"`
	Games          int
	Completed      int // workers that went inactive (game ended on its own)
	TimedOut       int
	Errored        int
	TotalPublishes int
	TeardownOK     int
	TeardownFailed int
	KeptResources  bool
	StartedAt      time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
