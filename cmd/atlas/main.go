// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command atlas starts the EnzyGraph Atlas API server.
//
// Atlas runs the protein similarity pipeline over a local entity
// store: domain-index construction, Jaccard similarity graph building
// (exact or delegated to Weaviate), weighted label propagation
// community detection, cluster analysis, and EC label inference.
//
// Usage:
//
//	go run ./cmd/atlas
//	go run ./cmd/atlas -port 9090 -data-dir /var/lib/enzygraph
//
// With Weaviate as the delegated similarity engine:
//
//	ENZYGRAPH_WEAVIATE_URL=http://localhost:8081 go run ./cmd/atlas
//
// Example requests:
//
//	# Ingest a UniProt TSV export
//	curl -X POST http://localhost:8080/v1/load/file \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "/data/uniprot_export.tsv"}'
//
//	# Run the full pipeline
//	curl -X POST http://localhost:8080/v1/atlas/pipeline \
//	  -H "Content-Type: application/json" \
//	  -d '{"propagate": {"policy": "weighted", "threshold": 0.3}}'
//
//	# Inspect a cluster
//	curl http://localhost:8080/v1/atlas/communities/0/members
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/enzygraph/enzygraph/pkg/logging"
	"github.com/enzygraph/enzygraph/services/atlas"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
	"github.com/enzygraph/enzygraph/services/atlas/store"
	badgerstore "github.com/enzygraph/enzygraph/services/atlas/store/badger"
	"github.com/enzygraph/enzygraph/services/atlas/store/weaviate"
	"github.com/enzygraph/enzygraph/services/atlas/telemetry"
	"github.com/enzygraph/enzygraph/services/loader"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	dataDir := flag.String("data-dir", "", "BadgerDB directory (empty runs in-memory)")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "atlas",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())
	log := logger.Slog()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	meter := otel.Meter("enzygraph.atlas")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		log.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(*dataDir, log)
	if err != nil {
		log.Error("Failed to open store", "error", err, "data_dir", *dataDir)
		os.Exit(1)
	}
	defer closeStore()

	svc, err := atlas.NewService(atlas.DefaultServiceConfig(), st, log)
	if err != nil {
		log.Error("Failed to create atlas service", "error", err)
		os.Exit(1)
	}

	loadSvc, err := loader.NewService(loader.DefaultServiceConfig(), st, log)
	if err != nil {
		log.Error("Failed to create loader service", "error", err)
		os.Exit(1)
	}

	closeWeaviate := setupWeaviate(ctx, svc, loadSvc, st, metrics, meter, log)
	defer closeWeaviate()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("atlas-service"))
	router.Use(metrics.GinMiddleware())
	if *debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	atlas.RegisterRoutes(v1, atlas.NewHandlers(svc),
		atlas.RateLimitMiddleware(atlas.DefaultRateLimitConfig()))
	loader.RegisterRoutes(v1, loader.NewHandlers(loadSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting EnzyGraph Atlas server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down Atlas server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown failed", "error", err)
	}
}

// openStore opens the configured entity store: persistent BadgerDB
// when a data directory is given, in-memory otherwise.
func openStore(dataDir string, log *slog.Logger) (store.EntityStore, func(), error) {
	if dataDir == "" {
		log.Info("Using in-memory store (no -data-dir given)")
		st := store.NewMemoryStore()
		return st, func() { _ = st.Close() }, nil
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dataDir
	cfg.Logger = log
	db, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := badgerstore.NewStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Info("Using BadgerDB store", "path", dataDir)
	return st, func() {
		if err := st.Close(); err != nil {
			log.Warn("Store close failed", "error", err)
		}
		if err := db.Close(); err != nil {
			log.Warn("Database close failed", "error", err)
		}
	}, nil
}

// setupWeaviate wires the optional delegated similarity engine.
//
// Returns a close function; a no-op when ENZYGRAPH_WEAVIATE_URL is
// unset or the client cannot be created. The server always starts:
// a down Weaviate only disables delegated builds.
func setupWeaviate(ctx context.Context, svc *atlas.Service, loadSvc *loader.Service,
	st store.EntityStore, metrics *telemetry.Metrics, meter metric.Meter, log *slog.Logger) func() {
	url := os.Getenv("ENZYGRAPH_WEAVIATE_URL")
	if url == "" {
		log.Info("Weaviate not configured, delegated builds disabled")
		return func() {}
	}

	cfg := weaviate.DefaultConfig()
	cfg.URL = url
	cfg.AllowStartDegraded = true
	cfg.Logger = log

	rc, err := weaviate.NewResilientClient(cfg)
	if err != nil {
		log.Warn("Weaviate client unavailable, delegated builds disabled", "error", err)
		return func() {}
	}

	degradation := weaviate.NewSimilarityDegradation(log)
	rc.RegisterHandler(degradation)

	if _, err := metrics.RegisterWeaviateCircuitState(meter, func() int64 {
		return int64(rc.State())
	}); err != nil {
		log.Warn("Circuit state gauge registration failed", "error", err)
	}

	if err := weaviate.EnsureSchema(ctx, rc); err != nil {
		log.Warn("Weaviate schema setup deferred", "error", err)
	}

	// Mirror entities already in the store (restart case), and keep
	// the mirror current on every ingestion.
	go mirrorSnapshot(ctx, rc, st, log)
	loadSvc.WithAfterLoad(func(ctx context.Context, proteins []*protein.Protein) error {
		return weaviate.Mirror(ctx, rc, proteins)
	})

	svc.WithSimilaritySource(weaviate.NewSource(rc, log), degradation)
	log.Info("Weaviate delegated similarity engine configured", "url", url)

	return func() {
		if err := rc.Close(); err != nil {
			log.Warn("Weaviate client close failed", "error", err)
		}
	}
}

// mirrorSnapshot pushes the current store contents into Weaviate.
func mirrorSnapshot(ctx context.Context, rc *weaviate.ResilientClient, st store.EntityStore, log *slog.Logger) {
	snapshot, err := st.Snapshot(ctx)
	if err != nil {
		log.Warn("Snapshot for mirror failed", "error", err)
		return
	}
	if len(snapshot) == 0 {
		return
	}
	proteins := make([]*protein.Protein, 0, len(snapshot))
	for _, p := range snapshot {
		proteins = append(proteins, p)
	}
	if err := weaviate.Mirror(ctx, rc, proteins); err != nil {
		log.Warn("Startup mirror failed", "error", err)
		return
	}
	log.Info("Mirrored store snapshot to Weaviate", "entities", len(proteins))
}
