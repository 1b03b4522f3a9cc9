package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wkrawczyk/dronefield/internal/aircraft"
	"github.com/wkrawczyk/dronefield/internal/api"
	"github.com/wkrawczyk/dronefield/internal/config"
	"github.com/wkrawczyk/dronefield/internal/mission"
	"github.com/wkrawczyk/dronefield/internal/registry"
	"github.com/wkrawczyk/dronefield/internal/storage/sqlite"
	"github.com/wkrawczyk/dronefield/internal/tracking"
	"github.com/wkrawczyk/dronefield/internal/websocket"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting dronefield server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the storage directories exist
	if dir := filepath.Dir(cfg.Storage.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dir))
			os.Exit(1)
		}
	}
	if err := os.MkdirAll(cfg.Storage.MissionDir, 0755); err != nil {
		log.Error("Failed to create mission directory", logger.Error(err), logger.String("path", cfg.Storage.MissionDir))
		os.Exit(1)
	}

	// Create SQLite storage
	flightStorage, err := sqlite.NewFlightStorage(cfg.Storage.DatabasePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer flightStorage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.DatabasePath))

	// Create the mission pipeline
	compiler := mission.NewWPMLCompiler(cfg.Mission.Author, mission.Defaults{
		HeightM:  cfg.Mission.DefaultHeightM,
		SpeedMps: cfg.Mission.DefaultSpeedMps,
	}, log)
	builder := mission.NewBuilder(compiler, cfg.Storage.MissionDir, log)

	// Wire the aircraft. Without a hardware bridge the in-process simulator
	// stands in as both control surface and telemetry source.
	sim := aircraft.NewSimulated(log)
	var control aircraft.ControlService = sim
	var telemetrySource aircraft.TelemetrySource = sim
	if cfg.Station.UseSimulatedDrone {
		log.Info("Using simulated aircraft")
	}

	uploader := aircraft.NewUploadCoordinator(control, log)
	uploader.SetRetryPolicy(cfg.Upload.StartMaxAttempts, time.Duration(cfg.Upload.StartDelayMs)*time.Millisecond)

	// Create the registry client; flights and telemetry are mirrored into
	// local storage either way
	var routeFetcher *registry.Client
	var registryAPI tracking.RegistryAPI
	if cfg.Registry.BaseURL != "" {
		routeFetcher = registry.NewClient(cfg.Registry, log)
		registryAPI = tracking.NewRecordingRegistry(routeFetcher, flightStorage, log)
	} else {
		log.Info("No registry configured, flights are recorded locally only")
		registryAPI = tracking.NewRecordingRegistry(tracking.NewOfflineRegistry(), flightStorage, log)
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Create API router
	handler := api.NewHandler(builder, uploader, telemetrySource, registryAPI, routeFetcher, flightStorage, cfg, log, wsServer)
	router := api.NewRouter(handler, wsServer, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping simulated aircraft...")
	sim.StopMission()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	log.Info("Server fully stopped")
}
