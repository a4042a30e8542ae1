package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mescon/Cadence/internal/api"
	"github.com/mescon/Cadence/internal/clock"
	"github.com/mescon/Cadence/internal/config"
	"github.com/mescon/Cadence/internal/db"
	"github.com/mescon/Cadence/internal/eventbus"
	"github.com/mescon/Cadence/internal/logger"
	"github.com/mescon/Cadence/internal/metrics"
	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
	"github.com/mescon/Cadence/internal/sketch"
)

// loopBacklog bounds work queued for the scheduler loop.
const loopBacklog = 256

// maintenanceInterval is the period between history pruning passes.
const maintenanceInterval = 24 * time.Hour

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (CADENCE_*)
	flagPort := flag.String("port", "", "HTTP server port (env: CADENCE_PORT, default: 3190)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: CADENCE_LOG_LEVEL, default: info)")
	flagPollInterval := flag.Duration("poll-interval", 0, "Engine poll period (env: CADENCE_POLL_INTERVAL, default: 25ms)")
	flagLookAhead := flag.Duration("look-ahead", 0, "How far ahead each poll fires actions (env: CADENCE_LOOK_AHEAD, default: 100ms)")
	flagTimecode := flag.Duration("timecode-interval", 0, "WebSocket timecode period (env: CADENCE_TIMECODE_INTERVAL, default: 100ms)")
	flagSketch := flag.String("sketch", "", "Sketch file evaluated at startup (env: CADENCE_SKETCH_PATH)")
	flagWatch := flag.Bool("watch", true, "Reload the sketch when it changes (env: CADENCE_WATCH)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: CADENCE_DATABASE_PATH)")
	flagRetention := flag.Int("retention-days", 30, "Days of sketch and event history to keep, 0 keeps everything (env: CADENCE_RETENTION_DAYS)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: CADENCE_DATA_DIR)")
	flagLogDir := flag.String("log-dir", "", "Log directory path (env: CADENCE_LOG_DIR)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Cadence %s\n", config.Version)
		os.Exit(0)
	}

	config.Load()

	flagOverrides := config.FlagOverrides{
		Port:             flagPort,
		LogLevel:         flagLogLevel,
		PollInterval:     flagPollInterval,
		LookAhead:        flagLookAhead,
		TimecodeInterval: flagTimecode,
		SketchPath:       flagSketch,
		DatabasePath:     flagDatabasePath,
		DataDir:          flagDataDir,
		LogDir:           flagLogDir,
	}
	// Flags with non-zero defaults only override the environment when given
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "watch":
			flagOverrides.WatchSketch = flagWatch
		case "retention-days":
			flagOverrides.RetentionDays = flagRetention
		}
	})
	config.ApplyFlags(flagOverrides)

	cfg := config.Get()

	if err := logger.Init(cfg.LogDir); err != nil {
		logger.Errorf("Failed to open log directory, logging to stdout only: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting Cadence %s...", config.Version)
	logger.Infof("========================================")

	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Poll Interval: %s", cfg.PollInterval)
	logger.Infof("  Look-ahead: %s", cfg.LookAhead)
	logger.Infof("  Timecode Interval: %s", cfg.TimecodeInterval)
	logger.Infof("  Sketch: %s (watch: %t)", cfg.SketchPath, cfg.WatchSketch)
	logger.Infof("  Database: %s (retention: %d days)", cfg.DatabasePath, cfg.RetentionDays)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Log Directory: %s", cfg.LogDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Infof("Initializing database: %s", cfg.DatabasePath)
	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Database initialized successfully")

	if err := repo.RunMaintenance(ctx, cfg.RetentionDays); err != nil {
		logger.Errorf("Startup maintenance failed: %v", err)
	}
	stopMaintenance := repo.StartPeriodicMaintenance(maintenanceInterval, cfg.RetentionDays)

	logger.Infof("Initializing Event Bus...")
	eb := eventbus.NewEventBus()
	db.NewJournal(repo, eb).Start()
	logger.Infof("✓ Event Bus initialized (journaling lifecycle events)")

	logger.Infof("Starting scheduler loop...")
	loop := runloop.New(loopBacklog)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() {
		if err := loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Scheduler loop exited: %v", err)
		}
	}()

	sched := scheduler.New(scheduler.Options{
		Interval:  cfg.PollInterval,
		LookAhead: cfg.LookAhead,
		Clock:     loop.Clock(clock.NewRealClock()),
		Publisher: eb,
	})
	transport := &api.LoopTransport{Loop: loop, Scheduler: sched}
	logger.Infof("✓ Scheduler ready")

	logger.Infof("Initializing Metrics Service...")
	metricsService := metrics.NewMetricsService(eb)
	metricsService.SetStatusSource(func() (int, float64, bool) {
		sctx, scancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer scancel()
		st, err := transport.Status(sctx)
		if err != nil {
			return 0, 0, false
		}
		return st.Pending, st.RtNow.Seconds(), true
	})
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	runner := sketch.NewRunner(sketch.Options{
		Loop:      loop,
		Scheduler: sched,
		Publisher: eb,
		History:   repo,
		BaseDir:   filepath.Dir(cfg.SketchPath),
	})
	loadInitialSketch(ctx, runner, cfg.SketchPath)
	if cfg.WatchSketch {
		go func() {
			if err := runner.Watch(ctx, cfg.SketchPath); err != nil {
				logger.Errorf("Sketch watcher stopped: %v", err)
			}
		}()
	}

	logger.Infof("Initializing REST API and WebSocket server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		EventBus:  eb,
		Transport: transport,
		Sketches:  runner,
		History:   repo,
		Metrics:   metricsService,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("========================================")
	logger.Infof("✓ Cadence %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	logger.Infof("========================================")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	// Stops the watcher and any in-flight reload
	cancel()

	logger.Infof("Stopping transport...")
	stopTransport(shutdownCtx, transport)
	stopLoop()
	<-loop.Done()
	logger.Infof("✓ Transport stopped")

	logger.Infof("Stopping Event Bus...")
	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	stopMaintenance()
	if err := repo.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	} else {
		logger.Infof("✓ Database connection closed")
	}

	logger.Infof("✓ Cadence shutdown complete")
	_ = logger.Close()
}

// loadInitialSketch evaluates path if it exists. A missing or broken sketch
// leaves the transport idle; the watcher or the API can load one later.
func loadInitialSketch(ctx context.Context, runner *sketch.Runner, path string) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Infof("No sketch at %s yet; waiting for one", path)
			return
		}
		logger.Warnf("Cannot read sketch %s: %v", path, err)
		return
	}
	if err := runner.LoadFile(ctx, path); err != nil {
		logger.Errorf("Initial sketch failed: %v", err)
		return
	}
	logger.Infof("✓ Sketch loaded: %s", path)
}

// stopTransport lets protected actions finish until ctx expires.
func stopTransport(ctx context.Context, transport *api.LoopTransport) {
	if err := transport.Stop(ctx); err != nil {
		if !errors.Is(err, scheduler.ErrInvalidTransition) {
			logger.Warnf("Transport stop failed: %v", err)
		}
		return
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := transport.Status(ctx)
		if err != nil || st.State == scheduler.Stopped {
			return
		}
		select {
		case <-ctx.Done():
			logger.Warnf("Gave up waiting for %d protected action(s)", st.Pending)
			return
		case <-ticker.C:
		}
	}
}
