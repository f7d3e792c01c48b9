package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gambitfleet/gambit/internal/db"
	"github.com/gambitfleet/gambit/internal/fingerprint"
	"github.com/gambitfleet/gambit/internal/models"
	"github.com/gambitfleet/gambit/internal/registry"
)

func TestStart_Validation(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("Start() without db = %v", err)
	}

	gdb := testDB(t)
	if err := Start(context.Background(), StartOpts{DB: gdb}); err == nil || !strings.Contains(err.Error(), "registry is required") {
		t.Errorf("Start() without registry = %v", err)
	}
}

func testDB(t *testing.T) *gorm.DB {
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

func testRouter(t *testing.T, gdb *gorm.DB, reg *registry.Registry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, gdb, reg)
	return router
}

func upsertSnapshot(reg *registry.Registry, id, raw, role string) {
	reg.Upsert(id, registry.Snapshot{
		Raw:         []byte(raw),
		Fingerprint: fingerprint.Sum([]byte(raw)),
		CapturedAt:  time.Now(),
	}, registry.Metadata{Role: role, InstanceID: "inst_" + id})
}

func TestHealth(t *testing.T) {
	reg := registry.New(time.Minute)
	upsertSnapshot(reg, "w1", `{"moves":1}`, "balanced")
	router := testRouter(t, testDB(t), reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Rev     uint64 `json:"rev"`
		Visible int    `json:"visible"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Visible != 1 || body.Rev == 0 {
		t.Errorf("health = %+v", body)
	}
}

func TestWorkerList_MergesRegistryAndDB(t *testing.T) {
	gdb := testDB(t)
	reg := registry.New(time.Minute)
	upsertSnapshot(reg, "w1", `{"moves":4}`, "aggressive")
	upsertSnapshot(reg, "w2", `{"moves":2}`, "defensive")
	upsertSnapshot(reg, "w3", `{"moves":8}`, "balanced")

	// w1 and w3 have durable rows; w2 must still be listed from the registry.
	gdb.Create(&models.Worker{
		ID: "w1", Status: models.StatusSyncing, PublishCount: 7,
		StartedAt: time.Now(), LastActivity: time.Now(),
	})
	gdb.Create(&models.Worker{
		ID: "w3", Status: models.StatusRunning, PublishCount: 2,
		StartedAt: time.Now(), LastActivity: time.Now(),
	})

	router := testRouter(t, gdb, reg)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workers", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Workers []workerRow `json:"workers"`
		Rev     uint64      `json:"rev"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Workers) != 3 {
		t.Fatalf("listed %d workers, want 3", len(body.Workers))
	}
	if body.Workers[0].ID != "w1" || body.Workers[0].Status != models.StatusSyncing || body.Workers[0].PublishCount != 7 {
		t.Errorf("w1 row = %+v", body.Workers[0])
	}
	if body.Workers[1].ID != "w2" || body.Workers[1].Status != "" {
		t.Errorf("w2 row = %+v", body.Workers[1])
	}
	if body.Workers[2].ID != "w3" || body.Workers[2].Status != models.StatusRunning || body.Workers[2].PublishCount != 2 {
		t.Errorf("w3 row = %+v", body.Workers[2])
	}
	if body.Workers[0].Role != "aggressive" || body.Workers[1].InstanceID != "inst_w2" {
		t.Errorf("metadata not propagated: %+v", body.Workers)
	}
}

func TestWorkerDetail_NotFound(t *testing.T) {
	router := testRouter(t, testDB(t), registry.New(time.Minute))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workers/ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWorkerDetail_DBOnly(t *testing.T) {
	// A terminated worker is gone from the registry but keeps its history row.
	gdb := testDB(t)
	gdb.Create(&models.Worker{
		ID: "w9", Status: models.StatusTerminated, Error: "",
		StartedAt: time.Now(), LastActivity: time.Now(),
	})
	router := testRouter(t, gdb, registry.New(time.Minute))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workers/w9", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["visible"] != false || body["status"] != models.StatusTerminated {
		t.Errorf("detail = %v", body)
	}
}

func TestWorkerState_RawPassthrough(t *testing.T) {
	reg := registry.New(time.Minute)
	raw := `{"moves": 12, "board": "rnbqkbnr"}`
	upsertSnapshot(reg, "w1", raw, "balanced")
	router := testRouter(t, testDB(t), reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workers/w1/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != raw {
		t.Errorf("state body = %q, want raw snapshot bytes", w.Body.String())
	}
}

func TestRunList(t *testing.T) {
	gdb := testDB(t)
	gdb.Create(&models.Run{ID: "r_old", Games: 1, StartedAt: time.Now().Add(-time.Hour)})
	gdb.Create(&models.Run{ID: "r_new", Games: 3, StartedAt: time.Now()})
	router := testRouter(t, gdb, registry.New(time.Minute))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Runs []models.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Runs) != 2 || body.Runs[0].ID != "r_new" {
		t.Errorf("runs = %+v", body.Runs)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "registry", registryEvent{Rev: 3, Workers: []string{"w1"}})

	got := buf.String()
	if !strings.HasPrefix(got, "event: registry\n") {
		t.Errorf("sse = %q", got)
	}
	if !strings.Contains(got, `"rev":3`) || !strings.Contains(got, `"workers":["w1"]`) {
		t.Errorf("sse data = %q", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Error("sse event not terminated by blank line")
	}
}
