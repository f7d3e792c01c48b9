// Package orchestrator drives a fleet run end to end: provision a base
// instance, branch it into clones, start one game per clone, replicate each
// game's state locally, then tear the cloud resources down.
package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"

	"gorm.io/gorm"

	"github.com/gambitfleet/gambit/internal/cloud"
	"github.com/gambitfleet/gambit/internal/config"
	"github.com/gambitfleet/gambit/internal/models"
	"github.com/gambitfleet/gambit/internal/notify"
	"github.com/gambitfleet/gambit/internal/registry"
)

// ProvisioningError aborts a run before any game starts. The stage names the
// step that failed so the operator knows where to look.
type ProvisioningError struct {
	Stage string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("orchestrator: provisioning failed at %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// WorkerTaskError is a single worker's game command failing. It never aborts
// sibling workers.
type WorkerTaskError struct {
	WorkerID string
	Err      error
}

func (e *WorkerTaskError) Error() string {
	return fmt.Sprintf("orchestrator: worker %s task failed: %v", e.WorkerID, e.Err)
}

func (e *WorkerTaskError) Unwrap() error { return e.Err }

// GenerateWorkerID returns a short random worker id.
func GenerateWorkerID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("orchestrator: generate worker ID: %w", err)
	}
	return "g-" + hex.EncodeToString(b)[:5], nil
}

// GenerateRunID returns a random run id.
func GenerateRunID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("orchestrator: generate run ID: %w", err)
	}
	return "run-" + hex.EncodeToString(b), nil
}

// Opts holds the orchestrator's collaborators.
type Opts struct {
	Config   *config.Config
	Provider cloud.Provider
	DB       *gorm.DB
	Registry *registry.Registry
	Notifier notify.Notifier // optional
	Out      io.Writer
}

// Orchestrator coordinates one fleet run at a time.
type Orchestrator struct {
	cfg      *config.Config
	provider cloud.Provider
	db       *gorm.DB
	reg      *registry.Registry
	notifier notify.Notifier
	out      io.Writer
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("orchestrator: provider is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Orchestrator{
		cfg:      opts.Config,
		provider: opts.Provider,
		db:       opts.DB,
		reg:      opts.Registry,
		notifier: opts.Notifier,
		out:      opts.Out,
	}, nil
}

// transition updates a worker's status in memory and durably.
func (o *Orchestrator) transition(w *models.Worker, status string) {
	w.Status = status
	if err := o.db.Model(&models.Worker{}).Where("id = ?", w.ID).Update("status", status).Error; err != nil {
		log.Printf("orchestrator: update status for %s: %v", w.ID, err)
	}
}
