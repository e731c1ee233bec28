package main

import (
	"context"
	"log"
	"time"

	"elibrary-rag/internal/ai"
	"elibrary-rag/internal/config"
	"elibrary-rag/internal/database"
	"elibrary-rag/internal/logger"
	"elibrary-rag/internal/queue"
	"elibrary-rag/internal/telemetry"
	"elibrary-rag/internal/vectordb"
	"elibrary-rag/services"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("elibrary-rag-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}

	index := vectordb.NewClient(cfg)
	generator := ai.NewDeepSeekClient(cfg)
	processor := services.NewPDFProcessor(cfg)
	store := services.NewVectorStoreService(processor, embedder, index, generator, metrics)
	books := database.NewBookIndexRepository(mongoClient, cfg.DBName)

	maintenance := services.NewMaintenanceService(cfg, store)
	if err := maintenance.Start(); err != nil {
		logger.Warn("Maintenance scheduler failed to start", "error", err)
	} else {
		defer maintenance.Stop()
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueIngest: 6,
				"default":         3,
				"low":             1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processorHandler := queue.NewTaskProcessor(books, store, queue.NewRedisLocker(rdb))

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestBook, processorHandler.HandleIngestBook)

	logger.Info("Worker starting", "concurrency", cfg.WorkerConcurrency)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
