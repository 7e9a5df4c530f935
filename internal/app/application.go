// Package app wires the seat dashboard together and runs its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seatboard/internal/api"
	"seatboard/internal/config"
	"seatboard/internal/engine"
	"seatboard/internal/hub"
	"seatboard/internal/roster"
	"seatboard/internal/transport"
	"seatboard/internal/websocket"
	"seatboard/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *zap.SugaredLogger
	roster      *roster.Store // nil when disabled
	redis       *redis.Client // nil when disabled
	hub         *hub.Hub
	viewers     *websocket.Registry
	publisher   *websocket.Publisher
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
	serverErr   chan error
	unsubscribe []func()
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Roster → Hub/Engine → Sources → Viewers → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.SugaredLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		config:    cfg,
		logger:    logger,
		serverErr: make(chan error, 1),
	}

	// STEP 1: Open the roster store (optional foundation layer)
	if cfg.Roster.Enabled {
		rosterCfg := roster.DefaultConfig()
		rosterCfg.Path = cfg.Roster.Path
		store, err := roster.Open(rosterCfg, logger.Named("roster"))
		if err != nil {
			return nil, fmt.Errorf("failed to open roster: %w", err)
		}
		app.roster = store
	}

	// STEP 2: Hub owns the engine; engine timers run on the hub loop
	app.hub = hub.NewHub(logger.Named("hub"))
	eng := engine.New(engine.Config{
		GuestName:         cfg.Engine.GuestName,
		ScoreMin:          cfg.Engine.ScoreMin,
		ScoreMax:          cfg.Engine.ScoreMax,
		AnimationDuration: cfg.Engine.AnimationDuration,
	}, app.hub.Scheduler(cfg.Engine.FrameInterval), logger.Named("engine"))
	app.hub.Bind(eng)

	// STEP 3: Upstream event sources
	if err := app.addSources(); err != nil {
		app.closeStores()
		return nil, err
	}

	// STEP 4: Dashboard viewers
	app.viewers = websocket.NewRegistry()
	app.publisher = websocket.NewPublisher(app.viewers, logger.Named("viewers"))
	wsHandler := websocket.NewHandler(app.viewers, app.hub, logger.Named("viewers"))

	// STEP 5: API server with the websocket endpoint mounted
	var health api.HealthChecker
	if app.roster != nil {
		health = app.roster
	}
	app.apiServer = api.NewServer(app.hub, health, app.viewers, logger.Named("api"))
	app.apiServer.LimitWrites(cfg.HTTP.WriteRateLimit)
	app.apiServer.Mount("/ws", wsHandler)

	// STEP 6: HTTP server
	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

func (app *Application) addSources() error {
	cfg := app.config

	if cfg.Upstream.URL != "" {
		opts := transport.DefaultWebSocketOptions(cfg.Upstream.URL)
		opts.HeartbeatInterval = cfg.Upstream.HeartbeatInterval
		opts.PongTimeout = cfg.Upstream.PongTimeout
		opts.Backoff = transport.Backoff{
			Base:        cfg.Upstream.ReconnectBase,
			Max:         cfg.Upstream.ReconnectMax,
			MaxAttempts: cfg.Upstream.MaxAttempts,
		}
		src, err := transport.NewWebSocketSource(opts, app.logger.Named("upstream"))
		if err != nil {
			return fmt.Errorf("failed to create upstream source: %w", err)
		}
		app.hub.AddSource(src)
	}

	if cfg.Redis.Enabled {
		client, err := transport.NewRedisClient(context.Background(), transport.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
			Pattern:  cfg.Redis.Pattern,
		})
		if err != nil {
			return err
		}
		app.redis = client
		app.hub.AddSource(transport.NewRedisSource(client, cfg.Redis.Pattern, app.logger.Named("redis")))
	}

	if cfg.AMQP.Enabled {
		app.hub.AddSource(transport.NewAMQPSource(transport.AMQPOptions{
			URL:      cfg.AMQP.URL,
			Queue:    cfg.AMQP.Queue,
			Prefetch: cfg.AMQP.Prefetch,
			Backoff: transport.Backoff{
				Base:        cfg.Upstream.ReconnectBase,
				Max:         cfg.Upstream.ReconnectMax,
				MaxAttempts: cfg.Upstream.MaxAttempts,
			},
		}, app.logger.Named("amqp")))
	}
	return nil
}

// Start begins application execution
// Hub starts first, stored classes are seeded, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start the engine loop and its event sources
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: Seed stored classes, then attach presentation and persistence
	if err := app.seed(ctx); err != nil {
		_ = app.hub.Stop()
		return err
	}

	// STEP 3: Start HTTP server
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("HTTP listen error: %w", err)
	}
	app.listener = ln
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Infow("Seatboard started", "addr", ln.Addr().String())
	return nil
}

func (app *Application) seed(ctx context.Context) error {
	var snapshots []types.Snapshot
	if app.roster != nil {
		var err error
		if snapshots, err = app.roster.LoadAll(ctx); err != nil {
			return fmt.Errorf("failed to load roster: %w", err)
		}
	}

	return app.hub.Execute(ctx, func(e *engine.Engine) {
		app.unsubscribe = append(app.unsubscribe, app.publisher.Attach(e))
		for _, snapshot := range snapshots {
			if e.ApplySnapshot(snapshot) {
				app.logger.Infow("Class seeded from roster", "class_id", snapshot.ClassID, "capacity", snapshot.TotalCapacity)
			}
		}
		if app.roster != nil && app.config.Roster.Persist {
			app.unsubscribe = append(app.unsubscribe, app.persistTo(e))
		}
	})
}

// persistTo writes the committed layout of a class back to the roster
// after every change. Animation-only notifications are skipped.
func (app *Application) persistTo(e *engine.Engine) func() {
	return e.Subscribe(func(n types.Notification) {
		if n.Kind == types.NotifyAnimationCleared {
			return
		}
		view, ok := e.ClassView(n.ClassID)
		if !ok {
			return
		}
		if err := app.roster.SaveSnapshotAsync(roster.SnapshotFromView(view)); err != nil {
			app.logger.Warnw("Failed to queue roster write", "class_id", n.ClassID, "error", err)
		}
	})
}

// Errors reports HTTP server failures after Start.
func (app *Application) Errors() <-chan error {
	return app.serverErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Viewers → Hub → Sources → Roster
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down seatboard")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warnw("HTTP server shutdown error", "error", err)
	}

	// STEP 2: Disconnect dashboard viewers
	app.viewers.CloseAll()

	// STEP 3: Detach subscribers and stop the engine loop
	if app.hub.Running() {
		_ = app.hub.Execute(ctx, func(*engine.Engine) {
			for _, unsubscribe := range app.unsubscribe {
				unsubscribe()
			}
		})
		if err := app.hub.Stop(); err != nil {
			app.logger.Warnw("Hub shutdown error", "error", err)
		}
	}

	// STEP 4: Close source clients and the roster
	app.closeStores()

	app.logger.Info("Seatboard shutdown complete")
	return nil
}

func (app *Application) closeStores() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warnw("Redis close error", "error", err)
		}
	}
	if app.roster != nil {
		if err := app.roster.Close(); err != nil {
			app.logger.Warnw("Roster close error", "error", err)
		}
	}
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Hub exposes the engine loop for embedding callers.
func (app *Application) Hub() *hub.Hub {
	return app.hub
}
