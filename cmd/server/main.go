package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/config"
	"github.com/jaydeelew/compareintel/internal/credits"
	"github.com/jaydeelew/compareintel/internal/orchestrator"
	"github.com/jaydeelew/compareintel/internal/provider"
	"github.com/jaydeelew/compareintel/internal/repository"
	"github.com/jaydeelew/compareintel/internal/store"
	"github.com/jaydeelew/compareintel/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize database
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.Event("info", "startup", "Server starting", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"db_path":   cfg.DBPath,
		"nats_url":  cfg.NatsURL,
	})

	// Load model catalog with hot reload
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		db.Event("error", "catalog.failed", "Catalog loading failed", map[string]interface{}{
			"path":  cfg.CatalogPath,
			"error": err.Error(),
		})
		slog.Error("Failed to load model catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	if err := cat.Watch(); err != nil {
		slog.Warn("Catalog hot reload disabled", "error", err)
	}
	defer cat.Close()

	// Connect to NATS for model backends
	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		db.Event("error", "nats.failed", "NATS connection failed", map[string]interface{}{
			"nats_url": cfg.NatsURL,
			"error":    err.Error(),
		})
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Initialize credit metering
	policies := credits.Policies{
		Anonymous: credits.Policy{Allocation: cfg.AnonDailyCredits, Period: credits.PeriodDaily, MaxModels: cfg.AnonMaxModels},
		Free:      credits.Policy{Allocation: cfg.FreeDailyCredits, Period: credits.PeriodDaily, MaxModels: cfg.FreeMaxModels},
		Pro:       credits.Policy{Allocation: cfg.ProMonthlyCredits, Period: credits.PeriodMonthly, MaxModels: cfg.ProMaxModels},
	}
	ledger := credits.NewSQLiteLedger(db)
	gate := credits.NewGate(ledger, policies)
	settlement := credits.NewSettlement(ledger, policies, cfg.OutputTokenWeight, cfg.TokensPerCredit)

	// Initialize orchestration
	repo := repository.NewSQLiteRepository(db)
	prov := provider.NewNATSProvider(conn, cat, cfg.ResponsePrefix, cfg.ProviderWait)
	orch := orchestrator.New(cat, gate, settlement, prov, repo, orchestrator.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
		PollInterval:      cfg.PollInterval,
		EventBuffer:       cfg.EventBuffer,
		MaxWorkers:        cfg.MaxWorkers,
		MaxTokens:         cfg.MaxTokens,
	})

	httpServer := server.NewServer(cfg.HTTPAddr, orch, gate, cat, repo, cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db.Event("info", "server.ready", "Server ready to accept requests", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"models":    len(cat.List()),
	})

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			db.Event("error", "http.failed", "HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("Shutting down server")
	db.Event("info", "shutdown", "Server shutting down", nil)
}
