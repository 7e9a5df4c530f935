package integration

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"seatboard/internal/engine"
	"seatboard/internal/hub"
	"seatboard/internal/roster"
	"seatboard/internal/websocket"
	"seatboard/pkg/types"
)

func startPipeline(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.NewHub(nil)
	cfg := engine.DefaultConfig()
	cfg.AnimationDuration = 20 * time.Millisecond
	h.Bind(engine.New(cfg, h.Scheduler(time.Millisecond), nil))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() {
		if h.Running() {
			_ = h.Stop()
		}
	})
	return h
}

func execute(t *testing.T, h *hub.Hub, fn func(*engine.Engine)) {
	t.Helper()
	if err := h.Execute(context.Background(), fn); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

// settle waits until no class has pending batch entries.
func settle(t *testing.T, h *hub.Hub) []types.ClassView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var (
			pending int
			views   []types.ClassView
		)
		execute(t, h, func(e *engine.Engine) {
			for _, id := range e.Classes() {
				pending += e.Pending(id)
				v, _ := e.ClassView(id)
				views = append(views, v)
			}
		})
		if pending == 0 {
			return views
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Batches never settled")
	return nil
}

func TestIntegration_InvariantsHold(t *testing.T) {
	views := []types.ClassView{{
		ClassID: "C1", TotalCapacity: 2, OccupiedCount: 1, AvailableSlots: 1,
		Seats: []types.Seat{{Number: 1, Occupant: types.Enrolled(1, "a", 0)}, {Number: 2, Occupant: types.Empty()}},
	}, {
		ClassID: "C2", TotalCapacity: 1, OccupiedCount: 1, AvailableSlots: 0,
		Seats: []types.Seat{{Number: 1, Occupant: types.Enrolled(1, "a", 0)}},
	}}
	if err := CheckInvariants(views); err == nil {
		t.Error("A student in two classes should be reported")
	}
	if err := CheckInvariants(views[:1]); err != nil {
		t.Errorf("Single class should pass: %v", err)
	}
}

func TestIntegration_ConcurrentJoinBurst(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rooms := GenerateClassrooms(4, 10)
	students := GenerateStudents(rng, 30)
	events := JoinBurst(rng, rooms, students, 120, 0.2)

	h := startPipeline(t)
	registry := websocket.NewRegistry()
	publisher := websocket.NewPublisher(registry, nil)
	execute(t, h, func(e *engine.Engine) {
		publisher.Attach(e)
		for _, room := range rooms {
			e.Initialize(room.ClassID, room.Capacity, false)
		}
	})

	server := httptest.NewServer(websocket.NewHandler(registry, h, nil))
	t.Cleanup(func() {
		server.Close()
		registry.CloseAll()
	})
	viewer, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws?class_id=C1", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer viewer.Close()

	var (
		mu   sync.Mutex
		last types.ClassView
	)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, data, err := viewer.ReadMessage()
			if err != nil {
				return
			}
			var msg websocket.Message
			if json.Unmarshal(data, &msg) == nil {
				mu.Lock()
				last = msg.View
				mu.Unlock()
			}
		}
	}()

	// Four producers interleave their joins on the hub loop
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := p; i < len(events); i += 4 {
				ev := events[i]
				if err := h.Execute(context.Background(), func(e *engine.Engine) {
					e.OnOccupantEvent(ev.ClassID, ev.Occupant)
				}); err != nil {
					t.Errorf("Execute failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	views := settle(t, h)
	if len(views) != len(rooms) {
		t.Fatalf("Expected %d classes, got %d", len(rooms), len(views))
	}
	if err := CheckInvariants(views); err != nil {
		t.Fatalf("Invariant violated: %v", err)
	}

	// The viewer's latest frame matches the committed seats of C1
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := last
		mu.Unlock()
		if seatsEqual(got.Seats, views[0].Seats) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Viewer never converged on the committed seats of C1")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = viewer.Close()
	<-readerDone
}

func TestIntegration_RosterRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rooms := GenerateClassrooms(3, 6)
	students := GenerateStudents(rng, 12)
	events := JoinBurst(rng, rooms, students, 40, 0.3)

	h := startPipeline(t)
	execute(t, h, func(e *engine.Engine) {
		for _, room := range rooms {
			e.Initialize(room.ClassID, room.Capacity, false)
		}
	})
	for _, ev := range events {
		ev := ev
		execute(t, h, func(e *engine.Engine) { e.OnOccupantEvent(ev.ClassID, ev.Occupant) })
	}
	before := settle(t, h)
	if err := CheckInvariants(before); err != nil {
		t.Fatalf("Invariant violated: %v", err)
	}

	rc := roster.DefaultConfig()
	rc.Path = filepath.Join(t.TempDir(), "roster.db")
	store, err := roster.Open(rc, nil)
	if err != nil {
		t.Fatalf("Failed to open roster: %v", err)
	}
	defer store.Close()
	for _, v := range before {
		if err := store.SaveSnapshot(context.Background(), roster.SnapshotFromView(v)); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	snapshots, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	restored := startPipeline(t)
	execute(t, restored, func(e *engine.Engine) {
		for _, snap := range snapshots {
			if !e.ApplySnapshot(snap) {
				t.Errorf("Snapshot of %s not applied", snap.ClassID)
			}
		}
	})
	after := settle(t, restored)
	if !sameViews(before, after) {
		t.Errorf("Restored layout differs from the saved one")
	}
}

func seatsEqual(a, b []types.Seat) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameViews(a, b []types.ClassView) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ClassID != b[i].ClassID || !seatsEqual(a[i].Seats, b[i].Seats) {
			return false
		}
	}
	return true
}
