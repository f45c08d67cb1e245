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
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceindex/internal/config"
	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/internal/observability"
	"github.com/your-org/faceindex/internal/pipeline"
	"github.com/your-org/faceindex/internal/queue"
	"github.com/your-org/faceindex/internal/storage"
	"github.com/your-org/faceindex/internal/vision"
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

	slog.Info("starting faceindex worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background(), cfg.Vision.EmbeddingDim); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
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

	// Load detection and embedding models
	engine, err := vision.NewEngine(cfg.Vision)
	if err != nil {
		slog.Error("init vision engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	pipe, err := pipeline.New(cfg, db, minioStore, engine, producer)
	if err != nil {
		slog.Error("init pipeline", "error", err)
		os.Exit(1)
	}
	runner := pipeline.NewRunner(pipe)

	slog.Info("pipeline initialized")

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Route cancel commands to in-flight runs.
	sub, err := consumer.SubscribeControl(func(data []byte) {
		var cmd models.CancelCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Error("unmarshal cancel command", "error", err)
			return
		}
		if runner.Cancel(cmd.VideoID) {
			slog.Info("cancel requested", "video_id", cmd.VideoID)
		} else {
			slog.Debug("cancel for idle video ignored", "video_id", cmd.VideoID)
		}
	})
	if err != nil {
		slog.Error("subscribe control", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// Start consuming processing jobs
	err = consumer.ConsumeJobs(ctx, "pipeline-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.ProcessJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal job", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		outcome, err := runner.Process(ctx, job)
		if errors.Is(err, models.ErrBusy) {
			slog.Warn("job rejected, run already active", "video_id", job.VideoID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("process video %s: %w", job.VideoID, err)
		}
		slog.Info("run terminated", "video_id", job.VideoID, "outcome", outcome)
		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start job consumer", "error", err)
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

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.PendingJobs(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
