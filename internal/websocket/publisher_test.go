package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"seatboard/pkg/types"
)

func drain(t *testing.T, conn *Connection) Message {
	t.Helper()
	select {
	case data := <-conn.writeCh:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Bad frame %s: %v", data, err)
		}
		return msg
	default:
		t.Fatal("Expected a queued frame")
		return Message{}
	}
}

func TestPublisher_PublishToClassViewers(t *testing.T) {
	r := NewRegistry()
	p := NewPublisher(r, nil)
	watcher := newBareConnection("C1", 4)
	other := newBareConnection("C2", 4)
	_ = r.Register(watcher)
	_ = r.Register(other)

	n := types.Notification{ID: "n1", ClassID: "C1", Kind: types.NotifyFlush, Seats: []int{2}, Animated: []int{2}, Timestamp: time.Now()}
	view := types.ClassView{ClassID: "C1", TotalCapacity: 3, OccupiedCount: 1, AvailableSlots: 2}

	if sent := p.Publish(n, view); sent != 1 {
		t.Fatalf("Expected 1 recipient, got %d", sent)
	}
	msg := drain(t, watcher)
	if msg.Type != MessageSeatsUpdated || msg.ClassID != "C1" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if msg.Notification == nil || msg.Notification.Kind != types.NotifyFlush || msg.View.OccupiedCount != 1 {
		t.Errorf("Unexpected payload %+v", msg)
	}
	if len(other.writeCh) != 0 {
		t.Error("Viewers of other classes must not receive the update")
	}
}

func TestPublisher_DropsSlowViewer(t *testing.T) {
	r := NewRegistry()
	p := NewPublisher(r, nil)
	slow := newBareConnection("C1", 1)
	_ = r.Register(slow)

	n := types.Notification{ClassID: "C1", Kind: types.NotifyCommand}
	view := types.ClassView{ClassID: "C1"}
	if sent := p.Publish(n, view); sent != 1 {
		t.Fatalf("First publish should reach the viewer, got %d", sent)
	}
	if sent := p.Publish(n, view); sent != 0 {
		t.Errorf("Full viewer should be skipped, got %d", sent)
	}

	if len(r.ClassConnections("C1")) != 0 {
		t.Error("Slow viewer should be unregistered")
	}
	select {
	case <-slow.Done():
	default:
		t.Error("Slow viewer should be closed")
	}
}
