package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"seatboard/internal/engine"
	"seatboard/internal/schedule"
	"seatboard/pkg/types"
)

// Source delivers decoded occupant events from an upstream transport.
// Run blocks until ctx is cancelled or the source gives up.
type Source interface {
	Name() string
	Run(ctx context.Context, sink func(types.OccupantEvent)) error
}

// Hub owns the reconciliation engine on a single goroutine
// ARCHITECTURAL DISCOVERY: every event, command, timer callback and read
// query runs inside the hub loop, so the engine needs no locking and an
// eviction never interleaves with another event
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels absorb classroom join bursts
	eventChannel    chan types.OccupantEvent // 1000 buffer for upstream events
	taskChannel     chan func()              // scheduler callbacks and Execute calls
	shutdownChannel chan struct{}
	done            chan struct{}

	engine  *engine.Engine
	sources []Source
	cancel  context.CancelFunc
	logger  *zap.SugaredLogger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub. Bind an engine before Start.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		eventChannel:    make(chan types.OccupantEvent, 1000),
		taskChannel:     make(chan func(), 1000),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// Scheduler returns a frame scheduler whose callbacks run on the hub loop.
func (h *Hub) Scheduler(frame time.Duration) schedule.Scheduler {
	return schedule.NewLoop(frame, h.post)
}

// Bind attaches the engine the loop drives.
func (h *Hub) Bind(e *engine.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = e
}

// AddSource registers an upstream event source started with the hub.
func (h *Hub) AddSource(src Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, src)
}

// Start begins hub processing and launches every source.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	if h.engine == nil {
		h.mu.Unlock()
		return ErrEngineNotBound
	}
	h.running = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	sources := append([]Source(nil), h.sources...)
	h.mu.Unlock()

	h.logger.Infow("Starting reconciliation hub", "sources", len(sources))

	go h.run(runCtx)
	for _, src := range sources {
		go h.runSource(runCtx, src)
	}
	return nil
}

// Stop shuts the loop down and cancels every source.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	h.logger.Info("Stopping reconciliation hub...")
	<-h.done
	return nil
}

// Running reports whether the loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// SubmitEvent queues an upstream event without blocking.
func (h *Hub) SubmitEvent(event types.OccupantEvent) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.eventChannel <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Execute runs fn on the hub loop and waits for it to finish.
func (h *Hub) Execute(ctx context.Context, fn func(*engine.Engine)) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn(h.engine)
	}

	select {
	case h.taskChannel <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubNotRunning
	}
}

// post hands a scheduler callback to the loop. Callbacks posted after
// shutdown are discarded.
func (h *Hub) post(fn func()) {
	select {
	case h.taskChannel <- fn:
	case <-h.shutdownChannel:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Info("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.safely(func() { h.handleEvent(event) })

		case task := <-h.taskChannel:
			h.safely(task)

		case <-h.shutdownChannel:
			h.logger.Info("Hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info("Hub context cancelled")
			return
		}
	}
}

// handleEvent validates and applies one upstream event
// FUNCTIONAL DISCOVERY: malformed events are logged and dropped, never
// surfaced to the transport that delivered them
func (h *Hub) handleEvent(event types.OccupantEvent) {
	if err := event.Validate(); err != nil {
		h.logger.Warnw("Dropping invalid occupant event", "class_id", event.ClassID, "error", err)
		return
	}
	if !h.engine.OnOccupantEvent(event.ClassID, event.Occupant) {
		h.logger.Debugw("Occupant event not seated", "class_id", event.ClassID, "name", event.Occupant.Name)
	}
}

// safely runs fn and repairs the affected class when a seat map invariant
// is violated. Any other panic is re-raised.
func (h *Hub) safely(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		classID, ok := engine.IsInvariantViolation(r)
		if !ok {
			panic(r)
		}
		h.logger.Errorw("Seat map invariant violated", "class_id", classID, "error", fmt.Sprint(r))
		h.engine.Repair(classID)
	}()
	fn()
}

// runSource feeds a source into the event channel until it returns.
func (h *Hub) runSource(ctx context.Context, src Source) {
	h.logger.Infow("Upstream source started", "source", src.Name())
	err := src.Run(ctx, func(event types.OccupantEvent) {
		if err := h.SubmitEvent(event); err != nil {
			h.logger.Warnw("Upstream event rejected", "source", src.Name(), "class_id", event.ClassID, "error", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Errorw("Upstream source stopped", "source", src.Name(), "error", err)
		return
	}
	h.logger.Infow("Upstream source stopped", "source", src.Name())
}
