package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gambitfleet/gambit/internal/registry"
)

// timeFormat is the wire format for all timestamps the dashboard emits.
const timeFormat = time.RFC3339

// registryEvent holds data for a registry-change SSE event.
type registryEvent struct {
	Rev     uint64   `json:"rev"`
	Workers []string `json:"workers"`
}

// handleSSE streams registry changes. The registry revision only moves on
// membership changes, so polling it is cheap and a client sees exactly one
// event per change batch.
func handleSSE(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		lastRev := reg.Rev()

		ctx := c.Request.Context()
		ticker := time.NewTicker(time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(timeFormat),
				})
				c.Writer.Flush()
			case <-ticker.C:
				rev := reg.Rev()
				if rev == lastRev {
					continue
				}
				lastRev = rev

				entries := reg.ListVisible()
				ids := make([]string, len(entries))
				for i, e := range entries {
					ids[i] = e.ID
				}
				writeSSE(c.Writer, "registry", registryEvent{Rev: rev, Workers: ids})
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
