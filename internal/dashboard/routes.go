package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gambitfleet/gambit/internal/models"
	"github.com/gambitfleet/gambit/internal/registry"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, reg *registry.Registry) {
	router.GET("/api/health", handleHealth(reg))
	router.GET("/api/workers", handleWorkerList(db, reg))
	router.GET("/api/workers/:id", handleWorkerDetail(db, reg))
	router.GET("/api/workers/:id/state", handleWorkerState(reg))
	router.GET("/api/runs", handleRunList(db))
	router.GET("/api/events", handleSSE(reg))
}

func handleHealth(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"rev":     reg.Rev(),
			"visible": len(reg.ListVisible()),
		})
	}
}

// workerRow is the list-view projection of one worker: live registry state
// merged with the durable DB row when one exists.
type workerRow struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	InstanceID   string `json:"instance_id"`
	Status       string `json:"status,omitempty"`
	Fingerprint  string `json:"fingerprint"`
	CapturedAt   string `json:"captured_at"`
	PublishCount int    `json:"publish_count,omitempty"`
}

func handleWorkerList(db *gorm.DB, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := reg.ListVisible()

		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		byID := make(map[string]models.Worker, len(ids))
		if len(ids) > 0 {
			var workers []models.Worker
			if err := db.Where("id IN ?", ids).Find(&workers).Error; err == nil {
				for _, w := range workers {
					byID[w.ID] = w
				}
			}
		}

		rows := make([]workerRow, 0, len(entries))
		for _, e := range entries {
			row := workerRow{
				ID:          e.ID,
				Role:        e.Metadata.Role,
				InstanceID:  e.Metadata.InstanceID,
				Fingerprint: e.Snapshot.Fingerprint,
				CapturedAt:  e.Snapshot.CapturedAt.UTC().Format(timeFormat),
			}
			if w, ok := byID[e.ID]; ok {
				row.Status = w.Status
				row.PublishCount = w.PublishCount
			}
			rows = append(rows, row)
		}
		c.JSON(http.StatusOK, gin.H{"workers": rows, "rev": reg.Rev()})
	}
}

func handleWorkerDetail(db *gorm.DB, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		entry, visible := reg.Get(id)

		var w models.Worker
		dbErr := db.First(&w, "id = ?", id).Error
		if !visible && dbErr != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
			return
		}

		resp := gin.H{"id": id, "visible": visible}
		if visible {
			resp["role"] = entry.Metadata.Role
			resp["instance_id"] = entry.Metadata.InstanceID
			resp["fingerprint"] = entry.Snapshot.Fingerprint
			resp["captured_at"] = entry.Snapshot.CapturedAt.UTC().Format(timeFormat)
		}
		if dbErr == nil {
			resp["status"] = w.Status
			resp["publish_count"] = w.PublishCount
			resp["started_at"] = w.StartedAt.UTC().Format(timeFormat)
			resp["last_activity"] = w.LastActivity.UTC().Format(timeFormat)
			if w.Error != "" {
				resp["error"] = w.Error
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleWorkerState serves the raw replicated snapshot. The bytes were
// validated as JSON before entering the registry, so they pass through as-is.
func handleWorkerState(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
			return
		}
		c.Data(http.StatusOK, "application/json", entry.Snapshot.Raw)
	}
}

func handleRunList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var runs []models.Run
		if err := db.Order("started_at DESC").Limit(50).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}
