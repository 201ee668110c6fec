package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/acme-studios/cf-rag-agent/internal/ai"
	"github.com/acme-studios/cf-rag-agent/internal/config"
	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/internal/queue"
	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

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

	vectors := services.NewQdrantStore(cfg)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := vectors.Init(ctx); err != nil {
			cancel()
			log.Fatal("Failed to init vector store:", err)
		}
		cancel()
	}

	embedder, err := ai.NewEmbedder(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to init embedder:", err)
	}

	segmenter, err := services.NewSegmenter(cfg.SegmentSize, cfg.SegmentOverlap)
	if err != nil {
		log.Fatal("Invalid segmenter config:", err)
	}

	indexer := services.NewIndexer(st, vectors)
	processor := queue.NewTaskProcessor(st, services.NewExtractor(), segmenter, embedder, indexer)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  4,
			},
			StrictPriority: true,
			ErrorHandler:   queue.NewErrorHandler(st),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDocumentIngest, processor.HandleIngest)

	logger.Info("Worker starting", "redis", redisOpt.Addr, "concurrency", 10)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
