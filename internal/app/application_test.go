package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"seatboard/internal/config"
	"seatboard/internal/roster"
	"seatboard/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Roster.Path = filepath.Join(t.TempDir(), "seatboard.db")
	cfg.Engine.AnimationDuration = 50 * time.Millisecond
	cfg.Engine.FrameInterval = time.Millisecond
	return cfg
}

func seedRoster(t *testing.T, path string, snapshot types.Snapshot) {
	t.Helper()
	rc := roster.DefaultConfig()
	rc.Path = path
	store, err := roster.Open(rc, nil)
	if err != nil {
		t.Fatalf("Failed to open roster: %v", err)
	}
	defer store.Close()
	if err := store.SaveSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("Failed to seed roster: %v", err)
	}
}

func startApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	application, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

func getView(t *testing.T, application *Application, classID string) (types.ClassView, int) {
	t.Helper()
	resp, err := http.Get("http://" + application.GetAddr() + "/api/classes/" + classID + "/seats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var view types.ClassView
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			t.Fatalf("Bad view: %v", err)
		}
	}
	return view, resp.StatusCode
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1
	application, err := NewApplication(cfg, nil)
	if err == nil || application != nil {
		t.Error("Constructor should reject invalid configuration")
	}
}

func TestApplication_SeedsFromRoster(t *testing.T) {
	cfg := testConfig(t)
	id, seat := int64(1), 2
	seedRoster(t, cfg.Roster.Path, types.Snapshot{
		ClassID:       "C1",
		TotalCapacity: 3,
		Occupants:     []types.OccupantPayload{{ID: &id, Name: "John", SeatNumber: &seat, Score: 10}},
	})

	application := startApp(t, cfg)
	view, code := getView(t, application, "C1")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if view.TotalCapacity != 3 || view.OccupiedCount != 1 {
		t.Fatalf("Unexpected seeded view %+v", view)
	}
	if got, ok := view.Seats[1].Occupant.ID(); !ok || got != 1 || view.Seats[1].Occupant.Score() != 10 {
		t.Errorf("Expected John in seat 2 with score 10, got %+v", view.Seats[1])
	}
	if len(view.Animated) != 0 {
		t.Errorf("Seeded occupants must not animate, got %v", view.Animated)
	}
}

func TestApplication_PersistsChanges(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roster.Persist = true
	seedRoster(t, cfg.Roster.Path, types.Snapshot{ClassID: "C1", TotalCapacity: 2})

	application := startApp(t, cfg)
	body := bytes.NewReader([]byte(`{"occupant": {"id": 5, "name": "Ann"}}`))
	resp, err := http.Post("http://"+application.GetAddr()+"/api/classes/C1/events", "application/json", body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	rc := roster.DefaultConfig()
	rc.Path = cfg.Roster.Path
	reader, err := roster.Open(rc, nil)
	if err != nil {
		t.Fatalf("Failed to open roster for reading: %v", err)
	}
	defer reader.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := reader.LoadSnapshot(context.Background(), "C1")
		if err == nil && len(snap.Occupants) == 1 && *snap.Occupants[0].ID == 5 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Flushed seat never reached the roster")
}

func TestApplication_StopKeepsLastLayout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roster.Persist = true
	seedRoster(t, cfg.Roster.Path, types.Snapshot{ClassID: "C1", TotalCapacity: 5})

	application, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for id := 1; id <= 4; id++ {
		body := bytes.NewReader([]byte(`{"occupant": {"id": ` + strconv.Itoa(id) + `, "name": "S"}}`))
		resp, err := http.Post("http://"+application.GetAddr()+"/api/classes/C1/events", "application/json", body)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if view, _ := getView(t, application, "C1"); view.OccupiedCount == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Events were never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rc := roster.DefaultConfig()
	rc.Path = cfg.Roster.Path
	reader, err := roster.Open(rc, nil)
	if err != nil {
		t.Fatalf("Failed to reopen roster: %v", err)
	}
	defer reader.Close()
	snap, err := reader.LoadSnapshot(context.Background(), "C1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(snap.Occupants) != 4 {
		t.Errorf("Expected the final layout with 4 occupants after Stop, got %d", len(snap.Occupants))
	}
}

func TestApplication_WithoutRoster(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roster.Enabled = false
	application := startApp(t, cfg)

	if _, code := getView(t, application, "C1"); code != http.StatusNotFound {
		t.Errorf("Unknown class should be 404, got %d", code)
	}

	resp, err := http.Get("http://" + application.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status string `json:"status"`
		Roster string `json:"roster"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Bad health body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "healthy" || health.Roster != "disabled" {
		t.Errorf("Unexpected health %d %+v", resp.StatusCode, health)
	}
}

func TestApplication_StopIsClean(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := application.GetAddr()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if application.Hub().Running() {
		t.Error("Hub should be stopped")
	}
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("Server should no longer accept connections")
	}
}
