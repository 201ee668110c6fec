package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/acme-studios/cf-rag-agent/internal/ai"
	"github.com/acme-studios/cf-rag-agent/internal/config"
	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/internal/queue"
	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/internal/telemetry"
	"github.com/acme-studios/cf-rag-agent/middleware"
	"github.com/acme-studios/cf-rag-agent/routes"
	"github.com/acme-studios/cf-rag-agent/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("cf-rag-agent", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracing:", err)
		}
		defer shutdown()
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
	st := store.New(mongoClient.Database(cfg.DBName))

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	vectors := services.NewQdrantStore(cfg)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := vectors.Init(ctx); err != nil {
			cancel()
			log.Fatal("Failed to init vector store:", err)
		}
		cancel()
	}

	aiClient, err := ai.NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to init Gemini client:", err)
	}
	defer aiClient.Close()

	embedder, err := ai.NewEmbedder(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to init embedder:", err)
	}

	enqueuer := queue.NewEnqueuer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer enqueuer.Close()

	indexer := services.NewIndexer(st, vectors)
	retrieval := services.NewRetrievalEngine(embedder, vectors, st)
	docService := services.NewDocumentService(indexer, st)
	orchestrator := services.NewOrchestrator(st, retrieval, docService, aiClient, cfg.HistoryWindow, cfg.SearchTopK)
	manager := services.NewSessionManager(orchestrator, indexer, st, cfg.FileStorageDir, cfg.SessionTTL)
	defer manager.Shutdown()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("cf-rag-agent"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Session-ID", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SessionMiddleware())
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	router.POST("/upload", middleware.RequireSession(), routes.HandleUpload(cfg, st, enqueuer))
	router.GET("/documents", middleware.RequireSession(), routes.HandleListDocuments(st))
	router.GET("/documents/:id", middleware.RequireSession(), routes.HandleGetDocument(st))
	router.GET("/ws", routes.HandleChat(cfg, st, manager))

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(cfg.SweepInterval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := manager.SweepExpired(ctx); err != nil {
			logger.Error("Session sweep failed", "error", err)
		}
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
