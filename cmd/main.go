package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elibrary-rag/internal/ai"
	"elibrary-rag/internal/config"
	"elibrary-rag/internal/database"
	"elibrary-rag/internal/logger"
	"elibrary-rag/internal/telemetry"
	"elibrary-rag/internal/vectordb"
	"elibrary-rag/middleware"
	"elibrary-rag/routes"
	"elibrary-rag/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Tracing is best effort, the service runs without a collector
	shutdownTracer, err := telemetry.InitTracer("elibrary-rag-api", cfg.OTLPEndpoint)
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

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

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

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("elibrary-rag-api"))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		status := store.CheckConfiguration(c.Request.Context())
		code := http.StatusOK
		if !status.VectorStore {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":       "ok",
			"vector_store": status.VectorStore,
			"generator":    status.Generator,
			"timestamp":    time.Now(),
		})
	})

	routes.SetupBookRoutes(router, cfg, store, books, queueClient)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
