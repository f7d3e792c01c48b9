package models

import "time"

// Publish records one distinct snapshot a replicator wrote to the publish
// directory. Consecutive polls with an unchanged fingerprint produce no row.
type Publish struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	WorkerID    string `gorm:"size:64;index"`
	Fingerprint string `gorm:"size:64"`
	SizeBytes   int64
	CapturedAt  time.Time
	CreatedAt   time.Time
}
