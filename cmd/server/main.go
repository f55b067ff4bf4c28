package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fabianr-su/ApproachMDPproject/internal/api"
	"github.com/fabianr-su/ApproachMDPproject/internal/config"
	"github.com/fabianr-su/ApproachMDPproject/internal/policyfile"
	"github.com/fabianr-su/ApproachMDPproject/internal/storage/sqlite"
	"github.com/fabianr-su/ApproachMDPproject/internal/weather"
	"github.com/fabianr-su/ApproachMDPproject/internal/websocket"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting approach MDP server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	if cfg.Atmosphere.METAR.Enabled {
		observeCtx, observeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		obs, err := weather.NewClient(cfg.Atmosphere.METAR, log).Observe(observeCtx)
		observeCancel()
		if err != nil {
			log.Warn("METAR unavailable, using configured ISA deviation",
				logger.Float64("isa_deviation", cfg.Atmosphere.ISADeviation),
				logger.Error(err))
		} else if err := cfg.SetISADeviation(obs.ISADeviation); err != nil {
			log.Warn("Ignoring METAR ISA deviation",
				logger.String("station", obs.Station),
				logger.Float64("configured", cfg.Atmosphere.ISADeviation),
				logger.Error(err))
		}
	}

	m, err := cfg.BuildMDP(log)
	if err != nil {
		log.Error("Failed to create approach MDP", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Approach configured",
		logger.String("aircraft", m.Aircraft().Name),
		logger.String("start", m.StartState().String()),
		logger.Any("faf", m.FAF()),
		logger.Float64("isa_deviation", cfg.Atmosphere.ISADeviation),
		logger.String("step_strategy", cfg.Scenario.StepStrategy),
		logger.Float64("step_scale", cfg.Scenario.StepScale))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLitePath))
		os.Exit(1)
	}
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	policyStorage := sqlite.NewPolicyStorage(db, log)
	flightStorage := sqlite.NewFlightStorage(db, log)
	rolloutStorage := sqlite.NewRolloutStorage(db, log)

	if cfg.Storage.PolicyDir != "" {
		importPolicies(cfg.Storage.PolicyDir, policyStorage, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	handler := api.NewHandler(m, policyStorage, flightStorage, rolloutStorage, wsServer, cfg, log)
	router := api.NewRouter(handler, wsServer, cfg.Server.CORSAllowedOrigins, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	// Stops the websocket hub and closes its clients
	cancel()

	log.Info("Server fully stopped")
}

// importPolicies stores every policy file in dir under its file name
func importPolicies(dir string, storage *sqlite.PolicyStorage, log *logger.Logger) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+policyfile.Extension))
	if err != nil {
		log.Error("Failed to list policy files", logger.String("dir", dir), logger.Error(err))
		return
	}

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), policyfile.Extension)
		hdr, p, err := policyfile.Load(path)
		if err != nil {
			log.Error("Failed to load policy file", logger.String("path", path), logger.Error(err))
			continue
		}
		if err := storage.SavePolicy(name, hdr.Aircraft, hdr.FAF, p); err != nil {
			log.Error("Failed to import policy", logger.String("name", name), logger.Error(err))
			continue
		}
		log.Info("Imported policy file", logger.String("name", name), logger.String("path", path))
	}
}
