package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/config"
	"github.com/your-org/facerec/internal/gateway"
	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
	"github.com/your-org/facerec/internal/queue"
	"github.com/your-org/facerec/internal/registry"
	"github.com/your-org/facerec/internal/storage"
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

	slog.Info("starting facerec worker",
		"workers", cfg.Recognition.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue depth gauge for backlog dashboards.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := producer.QueueDepth(ctx); err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	var index match.Index
	if cfg.Recognition.Index == config.IndexHNSW {
		hnswIdx := match.NewHNSWIndex(cfg.Recognition.EmbeddingDim)
		entries, err := db.ListAllEmbeddings(ctx)
		if err != nil {
			slog.Error("load embeddings", "error", err)
			os.Exit(1)
		}
		if err := hnswIdx.Rebuild(entries); err != nil {
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

	slog.Info("sighting pipeline initialized")

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Start consuming sighting tasks
	err = consumer.ConsumeSightings(ctx, "sighting-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.SightingTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal sighting task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		_, err := gw.ProcessSighting(ctx, gateway.Sighting{
			ID:          task.SightingID,
			Source:      task.Source,
			Embedding:   task.Embedding,
			Timestamp:   task.Timestamp,
			Confidence:  task.Confidence,
			SnapshotRef: task.SnapshotRef,
		})
		if err != nil {
			// Stale sightings are settled, not retryable.
			if errors.Is(err, attendance.ErrOutOfOrderSighting) {
				slog.Warn("dropping out-of-order sighting",
					"sighting", task.SightingID, "ts", task.Timestamp)
				return nil
			}
			return fmt.Errorf("process sighting %s: %w", task.SightingID, err)
		}
		return nil
	}, cfg.Recognition.WorkerCount)
	if err != nil {
		slog.Error("start sighting consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(time.Second)
	slog.Info("worker stopped")
}

func rebuildLoop(ctx context.Context, db *storage.PostgresStore, idx *match.HNSWIndex, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := db.ListAllEmbeddings(ctx)
			if err != nil {
				slog.Error("load embeddings", "error", err)
				continue
			}
			if err := idx.Rebuild(entries); err != nil {
				slog.Error("rebuild embedding index", "error", err)
				continue
			}
			slog.Info("embedding index rebuilt", "entries", idx.Len())
		}
	}
}
