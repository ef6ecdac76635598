package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"liveclass/internal/api"
	"liveclass/internal/attendance"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/notify"
	"liveclass/internal/pipeline"
	"liveclass/internal/router"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	pkgdatabase "liveclass/pkg/database"
)

// Application coordinates all system components. Initialization follows
// strict dependency order:
// Database → Attendance → Registry → Router → Notifier → Sessions →
// Pipeline → API → WebSocket → HTTP
type Application struct {
	config          *config.Config
	dbManager       *database.Manager
	registry        *websocket.Registry
	broadcastRouter *router.Router
	sessionManager  *session.Manager
	contentPipeline *pipeline.Pipeline
	apiServer       *api.Server
	httpServer      *http.Server
}

// NewApplication creates an application with all components initialized.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	validator := auth.NewValidator([]byte(cfg.Auth.JWTSecret))
	tracker := attendance.NewTracker()
	registry := websocket.NewRegistry()
	broadcastRouter := router.NewRouter(registry)
	notifier := notify.NewNotifier(dbManager)

	sessionManager, err := session.NewManager(dbManager, broadcastRouter, tracker, notifier)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	contentPipeline := pipeline.NewPipeline(pipeline.Config{
		Workers:         cfg.Pipeline.Workers,
		QueueSize:       cfg.Pipeline.QueueSize,
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		BaseRetryDelay:  cfg.Pipeline.BaseRetryDelay,
		MaxRetryDelay:   cfg.Pipeline.MaxRetryDelay,
		GenerateTimeout: cfg.Pipeline.GenerateTimeout,
	}, dbManager, pipeline.NewHTTPGenerator(cfg.Pipeline.GeneratorURL))

	apiServer := api.NewServer(sessionManager, dbManager, registry, contentPipeline, validator)
	wsHandler := websocket.NewHandler(registry, sessionManager, validator, websocket.HandlerConfig{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		WriteBufferSize: cfg.WebSocket.BufferSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:          cfg,
		dbManager:       dbManager,
		registry:        registry,
		broadcastRouter: broadcastRouter,
		sessionManager:  sessionManager,
		contentPipeline: contentPipeline,
		apiServer:       apiServer,
		httpServer:      httpServer,
	}, nil
}

// Start begins application execution. The pipeline starts before the HTTP
// server so topic updates can queue jobs from the first request.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting liveclass application on %s", app.httpServer.Addr)

	if err := app.contentPipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start content pipeline: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.contentPipeline.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Liveclass application started successfully")
		return nil
	case <-ctx.Done():
		_ = app.contentPipeline.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts the application down in reverse dependency order:
// HTTP → Pipeline → Router → Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down liveclass application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.contentPipeline.Stop(); err != nil && err != pipeline.ErrNotRunning {
		log.Printf("Content pipeline shutdown error: %v", err)
	}

	app.broadcastRouter.Close()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Liveclass application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
