package main

import (
	"context"
	"log"
	"os"
	"time"

	"filevault/internal/api"
	"filevault/internal/config"
	"filevault/internal/redis"
	"filevault/internal/service/ai"
	"filevault/internal/service/enrich"
	"filevault/internal/service/search"
	"filevault/internal/service/vault"
	"filevault/internal/storage"
	"filevault/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("FILEVAULT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("FILEVAULT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: files, file_metadata, storage_stats
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// redis is optional; without it the stats cache and durable queue are
	// skipped and enrichment dispatches in-memory only
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running without cache and durable queue: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/vault"
	}
	vaultService, err := vault.NewService(db, fileBase, cfg.QuotaBytes(), rdb)
	if err != nil {
		log.Fatalf("init vault service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AI components degrade gracefully: a missing provider means default
	// metadata, a missing embedder means no semantic search
	var analyzer ai.Analyzer
	gateway, err := ai.NewGateway(ctx, cfg.BasicConfig.AnalysisProvider, cfg)
	if err != nil {
		log.Printf("analysis disabled: %v", err)
	} else {
		analyzer = gateway
	}
	var embedder ai.Embedder
	oaiEmbedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		log.Printf("embeddings disabled: %v", err)
	} else {
		embedder = oaiEmbedder
	}

	extractor, err := enrich.NewLoaderExtractor(ctx)
	if err != nil {
		log.Fatalf("init extractor: %v", err)
	}
	pipeline := enrich.New(vaultService, extractor, analyzer, embedder)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, worker.RunnerFunc(func(ctx context.Context, job worker.Job) error {
		return pipeline.Process(ctx, job.FileID)
	}))
	queue := worker.NewQueue(rdb, dispatcher)
	queue.Start(ctx)

	pipeline.StartSweep(ctx,
		time.Duration(cfg.BasicConfig.SweepInterval)*time.Minute,
		time.Duration(cfg.BasicConfig.SweepGrace)*time.Minute,
		queue.Enqueue)

	searchService := search.NewService(vaultService, embedder)
	handlers := api.NewHandler(vaultService, pipeline, searchService, queue)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
