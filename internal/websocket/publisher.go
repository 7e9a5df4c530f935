package websocket

import (
	"time"

	"go.uber.org/zap"

	"seatboard/internal/engine"
	"seatboard/pkg/types"
)

// Message types pushed to dashboard viewers.
const (
	MessageSeatsSnapshot = "seats_snapshot"
	MessageSeatsUpdated  = "seats_updated"
)

// Message is the push frame a viewer receives.
type Message struct {
	Type         string              `json:"type"`
	ClassID      string              `json:"classId"`
	Notification *types.Notification `json:"notification,omitempty"`
	View         types.ClassView     `json:"view"`
	Timestamp    time.Time           `json:"timestamp"`
}

func snapshotMessage(view types.ClassView) Message {
	return Message{Type: MessageSeatsSnapshot, ClassID: view.ClassID, View: view, Timestamp: time.Now()}
}

// emptyView stands in for a class the engine does not track yet.
func emptyView(classID string) types.ClassView {
	return types.ClassView{ClassID: classID, Seats: []types.Seat{}, Animated: []int{}}
}

// Publisher forwards engine notifications to the viewers of each class.
type Publisher struct {
	registry *Registry
	logger   *zap.SugaredLogger
}

// NewPublisher creates a publisher over registry.
func NewPublisher(registry *Registry, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{registry: registry, logger: logger}
}

// Attach subscribes to e. Must be called on the goroutine that owns e;
// notifications then arrive on that goroutine too, so reading the class
// view inside the callback sees the state the notification describes.
func (p *Publisher) Attach(e *engine.Engine) func() {
	return e.Subscribe(func(n types.Notification) {
		view, ok := e.ClassView(n.ClassID)
		if !ok {
			view = emptyView(n.ClassID)
		}
		p.Publish(n, view)
	})
}

// Publish sends a seats_updated frame to every viewer of n.ClassID.
// FUNCTIONAL DISCOVERY: a viewer whose buffer is full is disconnected
// rather than stalling the engine; the browser reconnects and receives
// a fresh snapshot
func (p *Publisher) Publish(n types.Notification, view types.ClassView) int {
	msg := Message{
		Type:         MessageSeatsUpdated,
		ClassID:      n.ClassID,
		Notification: &n,
		View:         view,
		Timestamp:    n.Timestamp,
	}
	sent := 0
	for _, conn := range p.registry.ClassConnections(n.ClassID) {
		if err := conn.TrySend(msg); err != nil {
			p.logger.Debugw("Dropping dashboard viewer", "class", n.ClassID, "connection", conn.ID(), "error", err)
			p.registry.Unregister(conn)
			_ = conn.Close()
			continue
		}
		sent++
	}
	return sent
}
