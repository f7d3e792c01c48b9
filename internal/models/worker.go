package models

import "time"

// Worker lifecycle statuses. A worker moves provisioning → running → syncing
// and ends in exactly one terminal status.
const (
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusSyncing      = "syncing"
	StatusInactive     = "inactive"
	StatusTimedOut     = "timed_out"
	StatusErrored      = "errored"
	StatusTerminated   = "terminated"
)

// Worker is one remote game process and its replication state.
type Worker struct {
	ID              string `gorm:"primaryKey;size:64"`
	RunID           string `gorm:"size:64;index"`
	InstanceID      string `gorm:"size:64"`
	SnapshotID      string `gorm:"size:64"`
	Role            string `gorm:"size:64"`
	Status          string `gorm:"size:16;default:provisioning;index"`
	LastFingerprint string `gorm:"size:64"`
	PublishCount    int    `gorm:"default:0"`
	Error           string `gorm:"type:text"`
	StartedAt       time.Time
	LastActivity    time.Time `gorm:"index"`
	FinishedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the worker's status is final.
func (w *Worker) Terminal() bool {
	switch w.Status {
	case StatusInactive, StatusTimedOut, StatusErrored, StatusTerminated:
		return true
	}
	return false
}
