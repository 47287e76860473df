package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/api"
	"github.com/Bharath-Thiravium/athens-sub000/internal/config"
	"github.com/Bharath-Thiravium/athens-sub000/internal/connectivity"
	"github.com/Bharath-Thiravium/athens-sub000/internal/identity"
	"github.com/Bharath-Thiravium/athens-sub000/internal/queue"
	"github.com/Bharath-Thiravium/athens-sub000/internal/status"
	"github.com/Bharath-Thiravium/athens-sub000/internal/store"
	"github.com/Bharath-Thiravium/athens-sub000/internal/syncer"
	"github.com/Bharath-Thiravium/athens-sub000/internal/transport"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

func main() {
	// Command line flags
	configFlag := flag.String("config", "", "Path to configuration file (YAML)")
	portFlag := flag.String("port", "", "HTTP server port (overrides config)")
	dbPathFlag := flag.String("db", "", "Queue store file path (overrides config)")
	remoteFlag := flag.String("remote", "", "Remote service base URL (overrides config)")
	flag.Parse()

	var cfg *config.Config
	var err error

	// Load config file if provided
	if *configFlag != "" {
		cfg, err = config.LoadConfig(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	// Override with command line flags
	if *portFlag != "" {
		port, err := strconv.Atoi(*portFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid port: %v\n", err)
			os.Exit(1)
		}
		cfg.Device.HTTP.Port = port
	}
	if *dbPathFlag != "" {
		cfg.Device.Store.Path = *dbPathFlag
	}
	if *remoteFlag != "" {
		cfg.Remote.BaseURL = *remoteFlag
	}

	// Setup logger with configured level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting capture agent",
		"device", cfg.Device.Name, "log_level", cfg.LogLevel, "remote", cfg.Remote.BaseURL)

	// Stable per-installation device id lives beside the queue store
	deviceID, err := identity.DeviceID(filepath.Dir(cfg.Device.Store.Path))
	if err != nil {
		logger.Error("failed to resolve device id", "error", err)
		os.Exit(1)
	}
	logger.Info("device identity resolved", "device_id", deviceID)

	// Open the durable queue store (falls back to journal on engine failure)
	st := store.Open(cfg.Device.Store.Path, logger.With("component", "store"))
	defer st.Close()

	queueManager := queue.New(st, logger.With("component", "queue"))
	tracker := status.NewTracker()

	// Connectivity probe against the remote health endpoint
	monitor := connectivity.NewProbe(cfg.Remote.HealthURL(),
		cfg.Sync.ProbeInterval(), cfg.Remote.Timeout(),
		logger.With("component", "connectivity"))
	monitor.Start()
	defer monitor.Stop()

	// Sync coordinator
	client := transport.NewClient(cfg.Remote.SubmitURL(), cfg.Remote.Timeout())
	coordinator := syncer.New(queueManager, client, monitor, tracker,
		logger.With("component", "syncer"), syncer.Options{
			BatchSize:   cfg.Sync.BatchSize,
			MaxAttempts: cfg.Sync.MaxAttempts,
			Interval:    cfg.Sync.Interval(),
		})
	coordinator.Start()
	defer coordinator.Stop()

	// Create Chi router and Huma API
	router := chi.NewMux()
	humaAPI := humachi.New(router, huma.DefaultConfig("Event Capture Agent API", "1.0.0"))

	apiServer := api.NewServer(queueManager, tracker, coordinator, monitor, deviceID)
	apiServer.RegisterRoutes(humaAPI)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Device.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Device.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	coordinator.Stop()
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("agent exited")
}
