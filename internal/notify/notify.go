// Package notify pushes fleet lifecycle events to chat platforms (Slack,
// Discord). Unlike a full chat bridge it is send-only: nothing flows back.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gambitfleet/gambit/internal/models"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Event is a fleet happening formatted for display in chat.
type Event struct {
	Title    string  // headline (e.g. "Run r_1f3a finished")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Color returns the sidebar color for the event's severity.
func (e Event) Color() string {
	switch e.Severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// Notifier delivers events to a single platform.
type Notifier interface {
	Post(ctx context.Context, ev Event) error
}

// Multi fans an event out to several notifiers, collecting every failure
// rather than stopping at the first. A dead Slack webhook must not silence
// Discord.
type Multi []Notifier

func (m Multi) Post(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Post(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunFinished formats a run summary into an event. Severity degrades with
// the worst outcome seen in the run.
func RunFinished(run models.Run, elapsed time.Duration) Event {
	severity := "success"
	switch {
	case run.Errored > 0:
		severity = "error"
	case run.TimedOut > 0 || run.TeardownFailed > 0:
		severity = "warning"
	}

	ev := Event{
		Title:    fmt.Sprintf("Run %s finished", run.ID),
		Body:     fmt.Sprintf("%d game(s) in %s", run.Games, elapsed.Round(time.Second)),
		Severity: severity,
		Fields: []Field{
			{Name: "Completed", Value: fmt.Sprintf("%d", run.Completed), Short: true},
			{Name: "Timed out", Value: fmt.Sprintf("%d", run.TimedOut), Short: true},
			{Name: "Errored", Value: fmt.Sprintf("%d", run.Errored), Short: true},
			{Name: "Publishes", Value: fmt.Sprintf("%d", run.TotalPublishes), Short: true},
		},
	}
	if run.KeptResources {
		ev.Fields = append(ev.Fields, Field{Name: "Teardown", Value: "skipped (resources kept)"})
	} else {
		ev.Fields = append(ev.Fields, Field{
			Name:  "Teardown",
			Value: fmt.Sprintf("%d ok, %d failed", run.TeardownOK, run.TeardownFailed),
			Short: true,
		})
	}
	return ev
}

// WorkerFailed formats a single worker failure into an event.
func WorkerFailed(w models.Worker, cause error) Event {
	return Event{
		Title:    fmt.Sprintf("Worker %s errored", w.ID),
		Body:     cause.Error(),
		Severity: "error",
		Fields: []Field{
			{Name: "Role", Value: w.Role, Short: true},
			{Name: "Instance", Value: w.InstanceID, Short: true},
		},
	}
}
