package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"detectionserver/internal/config"
	"detectionserver/internal/logger"
	"detectionserver/internal/pipeline"
	"detectionserver/internal/repository/sqlite"
	"detectionserver/internal/route"
	"detectionserver/internal/service/ai"
	"detectionserver/internal/service/camera"
	"detectionserver/internal/service/capture"
	ws "detectionserver/internal/service/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	detector   *ai.DetectorService
	hub        *ws.Hub
	controller *pipeline.Controller
	server     *http.Server
}

// NewApp loads configuration and wires storage, inference, the hub and the pipeline.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}
	detectionRepo := sqlite.NewDetectionRepository(db)

	detector, err := ai.NewDetectorService(cfg, log)
	if err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to load detection model: %w", err)
	}

	hub := ws.NewHub(log)
	controller := pipeline.NewController(pipeline.Dependencies{
		Opener:      camera.Opener(cfg.CameraDevice),
		Inferencer:  detector,
		Repository:  detectionRepo,
		Broadcaster: hub,
		Logger:      log,
	}, pipeline.Options{
		Inference: capture.InferenceConfig{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			TargetSize:          cfg.TargetSize,
		},
		RetryInterval: cfg.ReadRetryInterval,
		QueueCapacity: cfg.QueueCapacity,
	})

	router := route.SetupRoutes(cfg, log, hub, controller, detectionRepo)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		detector:   detector,
		hub:        hub,
		controller: controller,
		server:     &http.Server{Addr: cfg.Address(), Handler: router},
	}, nil
}

// Run starts the pipeline and the HTTP server and blocks until ctx is done
// or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.controller.Startup(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	a.logger.Info("Detection server listening on %s", a.server.Addr)
	a.logger.Info("Camera: %s, model: %s", a.config.CameraDevice, a.config.ModelPath)
	a.logger.Info("Database: %s", a.config.DatabasePath)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warning("HTTP server shutdown: %v", err)
	}

	a.controller.Shutdown()

	// Hijacked WebSocket connections are not closed by Server.Shutdown.
	for _, conn := range a.hub.Connections() {
		a.hub.Disconnect(conn)
	}

	// A read in flight is never interrupted; the model stays loaded until the loop is gone.
	if err := a.controller.WaitSource(ctx); err != nil {
		a.logger.Warning("Capture loop still running at exit: %v", err)
	} else if err := a.detector.Close(); err != nil {
		a.logger.Warning("Failed to release detection network: %v", err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
	a.logger.Info("Shutdown complete")
	a.logger.Close()
}
