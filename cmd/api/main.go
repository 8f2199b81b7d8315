package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facerec/internal/api"
	"github.com/your-org/facerec/internal/api/ws"
	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/config"
	"github.com/your-org/facerec/internal/gateway"
	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
	"github.com/your-org/facerec/internal/queue"
	"github.com/your-org/facerec/internal/registry"
	"github.com/your-org/facerec/internal/storage"
	"github.com/your-org/facerec/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facerec API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background(), cfg.Recognition.EmbeddingDim); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	snapshots, err := storage.NewSnapshotStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := snapshots.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedding index: exact pgvector search by default, in-memory HNSW
	// with periodic rebuilds when configured.
	var index match.Index
	if cfg.Recognition.Index == config.IndexHNSW {
		hnswIdx := match.NewHNSWIndex(cfg.Recognition.EmbeddingDim)
		if err := rebuildIndex(ctx, db, hnswIdx); err != nil {
			slog.Error("build hnsw index", "error", err)
			os.Exit(1)
		}
		go rebuildLoop(ctx, db, hnswIdx, cfg.Recognition.RebuildInterval)
		index = hnswIdx
	} else {
		index = db.VectorIndex(cfg.Recognition.EmbeddingDim)
	}

	matcher := match.NewMatcher(index, cfg.Recognition.VerifyThreshold, cfg.Recognition.IdentifyMargin)
	reg := registry.New(db, cfg.Recognition.EmbeddingDim, cfg.Recognition.VerifyThreshold)
	ledger := attendance.NewLedger(db, cfg.Attendance.MinDwell, cfg.Attendance.Location())

	gw := gateway.New(matcher, reg, ledger, db).
		WithSnapshots(snapshots).
		WithEvents(producer)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Relay worker-produced attendance events to WebSocket clients.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var event models.AttendanceEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			return err
		}
		hub.BroadcastEvent(&event)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// ONNX encoder for multipart enrollment photos.
	var embedFn func([]byte) ([]float32, float32, error)
	if err := vision.InitializeRuntime(); err != nil {
		slog.Warn("onnx runtime init failed, photo enrollment unavailable", "error", err)
	} else {
		modelPath := filepath.Join(cfg.Recognition.ModelsDir, "w600k_r50.onnx")
		encoder, err := vision.NewEncoder(modelPath, cfg.Recognition.EmbeddingDim)
		if err != nil {
			slog.Warn("encoder init failed, photo enrollment unavailable", "error", err)
		} else {
			embedFn = encoder.EmbedImage
			defer encoder.Close()
			defer vision.DestroyRuntime()
			slog.Info("encoder ready for photo enrollment")
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		Snapshots:    snapshots,
		Producer:     producer,
		Hub:          hub,
		Gateway:      gw,
		Ledger:       ledger,
		EmbeddingDim: cfg.Recognition.EmbeddingDim,
		EmbedFn:      embedFn,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	slog.Info("API server stopped")
}

func rebuildIndex(ctx context.Context, db *storage.PostgresStore, idx *match.HNSWIndex) error {
	entries, err := db.ListAllEmbeddings(ctx)
	if err != nil {
		return err
	}
	if err := idx.Rebuild(entries); err != nil {
		return err
	}
	slog.Info("embedding index rebuilt", "entries", idx.Len())
	return nil
}

func rebuildLoop(ctx context.Context, db *storage.PostgresStore, idx *match.HNSWIndex, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rebuildIndex(ctx, db, idx); err != nil {
				slog.Error("rebuild embedding index", "error", err)
			}
		}
	}
}
