// Package main provides the ragserve API server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/ragserve/internal/config"
	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/llm"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/raphaelgruber/ragserve/internal/server"
	"github.com/raphaelgruber/ragserve/internal/service"
	"github.com/raphaelgruber/ragserve/internal/storage"
	"github.com/raphaelgruber/ragserve/internal/vecindex"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("starting ragserve-server", "host", cfg.Host, "port", cfg.Port)

	if err := cfg.EnsureDirectories(); err != nil {
		slog.Error("failed to create data directories", "error", err)
		os.Exit(1)
	}

	// Connect to database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		cancel()
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		cancel()
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	if *wipeDB || os.Getenv("RAGSERVE_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		slog.Warn("database wiped")
	}
	cancel()
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	mc := metrics.NewCollector()
	dbClient.SetMetrics(mc)

	embedder, err := llm.NewEmbedder(cfg, mc)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	model, err := llm.NewModel(context.Background(), cfg, mc)
	if err != nil {
		slog.Error("failed to create model client", "error", err)
		os.Exit(1)
	}

	registry := vecindex.NewRegistry(cfg.IndexDir(), cfg.EmbedDimension)
	files := storage.NewStore(cfg.AgentsDir())

	ingest := service.NewIngestService(dbClient, embedder, registry, files, service.IngestConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, logger, mc)
	rag := service.NewRAGService(dbClient, embedder, registry, model, service.RAGConfig{
		TopK:            cfg.TopKResults,
		MaxContextChars: cfg.MaxContextChars,
	}, logger, mc)

	srv := server.New(cfg, dbClient, ingest, rag, mc, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx, cfg.Host, cfg.Port); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let background document processing finish before closing the database.
	slog.Info("waiting for in-flight document processing")
	ingest.Wait()

	slog.Info("server stopped")
}
