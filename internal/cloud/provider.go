// Package cloud abstracts the compute provider that hosts remote workers:
// provisioning snapshots and instances, branching clones, executing commands,
// and fetching files. The Provider interface keeps the rest of the system
// testable against fakes; API version skew belongs in the implementation,
// never in callers.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by FetchFile when the remote path does not exist,
// and by Get* calls for unknown resource IDs.
var ErrNotFound = errors.New("cloud: not found")

// APIError is a provider API failure. Transient errors may be retried;
// anything else should abort the operation for that resource.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the failure is worth retrying (rate limiting or
// server-side trouble).
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// Snapshot is a provisioned base image that instances start from.
type Snapshot struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Instance is a running compute instance.
type Instance struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SnapshotSpec describes the resources for a new snapshot.
type SnapshotSpec struct {
	VCPUs    int `json:"vcpus"`
	MemoryMB int `json:"memory_mb"`
	DiskMB   int `json:"disk_mb"`
}

// ExecResult holds the outcome of a remote command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Provider is the remote execution and file-transfer collaborator.
type Provider interface {
	CreateSnapshot(ctx context.Context, spec SnapshotSpec) (*Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	StartInstance(ctx context.Context, snapshotID string) (*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)
	StopInstance(ctx context.Context, id string) error

	// Branch snapshots the instance and starts count isolated clones from it.
	Branch(ctx context.Context, instanceID string, count int) (*Snapshot, []*Instance, error)

	// Exec runs a shell command on the instance and waits for it to finish.
	Exec(ctx context.Context, instanceID, command string) (*ExecResult, error)

	// FetchFile downloads a remote file to localPath, returning ErrNotFound
	// when the remote path does not exist.
	FetchFile(ctx context.Context, instanceID, remotePath, localPath string) error

	// SetMetadata attaches key/value metadata to an instance so workers are
	// identifiable without talking to the instance itself.
	SetMetadata(ctx context.Context, instanceID string, metadata map[string]string) error
}
