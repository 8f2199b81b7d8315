// The ingestor replays sighting logs into the queue. Capture devices in
// the field write JSONL sighting files; this binary feeds them to the
// workers, either as fast as possible or paced by the recorded
// timestamps.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/config"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
	"github.com/your-org/facerec/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	filePath := flag.String("file", "", "JSONL sighting log to replay (required)")
	source := flag.String("source", "", "override the source field on every sighting")
	paced := flag.Bool("paced", false, "space publishes by recorded timestamp gaps")
	speed := flag.Float64("speed", 1.0, "pacing speed multiplier (2 = twice as fast)")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: ingestor -file sightings.jsonl [-paced] [-speed N]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting facerec ingestor", "file", *filePath, "paced", *paced)

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		slog.Error("open sighting log", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	published, skipped, err := replay(ctx, producer, f, *source, *paced, *speed)
	if err != nil {
		slog.Error("replay", "error", err)
		os.Exit(1)
	}

	slog.Info("replay finished", "published", published, "skipped", skipped)
}

// replay reads one SightingTask per line and publishes it. Malformed lines
// are counted and skipped so a single bad record does not abort a replay.
func replay(ctx context.Context, producer *queue.Producer, f *os.File, source string, paced bool, speed float64) (published, skipped int, err error) {
	if speed <= 0 {
		speed = 1
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	var prev time.Time
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return published, skipped, ctx.Err()
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var task models.SightingTask
		if err := json.Unmarshal(raw, &task); err != nil {
			slog.Warn("skip malformed line", "line", line, "error", err)
			skipped++
			continue
		}
		if len(task.Embedding) == 0 {
			slog.Warn("skip sighting without embedding", "line", line)
			skipped++
			continue
		}
		if task.SightingID == uuid.Nil {
			task.SightingID = uuid.New()
		}
		if source != "" {
			task.Source = source
		}
		if task.Source == "" {
			task.Source = "replay"
		}

		if paced && !prev.IsZero() && task.Timestamp.After(prev) {
			gap := time.Duration(float64(task.Timestamp.Sub(prev)) / speed)
			select {
			case <-ctx.Done():
				return published, skipped, ctx.Err()
			case <-time.After(gap):
			}
		}
		prev = task.Timestamp

		if err := producer.PublishSighting(ctx, task.Source, task); err != nil {
			return published, skipped, fmt.Errorf("publish line %d: %w", line, err)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, skipped, fmt.Errorf("read sighting log: %w", err)
	}
	return published, skipped, nil
}
