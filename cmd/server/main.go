package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"zikaron/internal/config"
	"zikaron/internal/database"
	"zikaron/internal/embedding"
	"zikaron/internal/extraction"
	"zikaron/internal/index"
	"zikaron/internal/jobs"
	"zikaron/internal/logging"
	"zikaron/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Zikaron memory engine...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	engineCfg, err := config.LoadEngineConfig(cfg.EngineConfigPath)
	if err != nil {
		log.Fatalf("❌ Failed to load engine config: %v", err)
	}

	// MongoDB is the document store of record.
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()
	if err := mongoDB.Initialize(initCtx); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
	}
	log.Println("✅ MongoDB connected and initialized")

	// Redis is optional: without it the engine just skips event
	// publication.
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, events disabled: %v", err)
		} else {
			defer redisService.Close()
		}
	}

	// Retrieval backends. With DATA_DIR unset both run in-memory and
	// are rebuilt from the document store at startup.
	threshold := breakerThreshold
	if engineCfg.Index.BreakerThreshold > 0 {
		threshold = engineCfg.Index.BreakerThreshold
	}
	cooldown := breakerCooldown
	if engineCfg.Index.BreakerCooldown > 0 {
		cooldown = time.Duration(engineCfg.Index.BreakerCooldown) * time.Second
	}

	var vectorPath, lexicalPath string
	if cfg.DataDir != "" {
		vectorPath = filepath.Join(cfg.DataDir, "vector")
		lexicalPath = filepath.Join(cfg.DataDir, "lexical.bleve")
	}

	vectorBreaker := index.NewBreaker("vector", threshold, cooldown)
	lexicalBreaker := index.NewBreaker("lexical", threshold, cooldown)

	vectorIndex, err := index.NewChromemIndex(vectorPath, vectorBreaker)
	if err != nil {
		log.Fatalf("❌ Failed to open vector index: %v", err)
	}
	lexicalIndex, err := index.NewBleveIndex(lexicalPath, lexicalBreaker)
	if err != nil {
		log.Fatalf("❌ Failed to open lexical index: %v", err)
	}
	defer lexicalIndex.Close()
	log.Println("✅ Retrieval indexes ready")

	// External model services.
	embedder := embedding.NewClientWithLimit(cfg.EmbeddingURL,
		engineCfg.Embedding.RequestsPerSecond, engineCfg.Embedding.Burst)

	var extractor extraction.Extractor
	if cfg.NERServiceURL != "" {
		extractor = extraction.NewNERClient(cfg.NERServiceURL, engineCfg.Extraction.MinConfidence)
		log.Println("✅ NER extraction service configured")
	} else {
		extractor = extraction.NewHeuristicExtractor()
		log.Println("ℹ️ NER service not configured, using heuristic extraction")
	}

	// Core services.
	writer := database.NewWriteSerializer(mongoDB)

	ghosts := services.NewGhostRegistry(mongoDB)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ghosts.Load(loadCtx); err != nil {
		log.Printf("⚠️ Failed to load ghost registry: %v", err)
	}
	cancelLoad()

	routing := services.NewRoutingService(mongoDB)
	contentKG := services.NewContentKGService(mongoDB, writer)
	actions := services.NewActionTracker(mongoDB)
	tracker := services.NewPositionTracker()

	storage := services.NewMemoryStorageService(mongoDB, vectorIndex, lexicalIndex, embedder, extractor, contentKG, ghosts)
	search := services.NewSearchService(vectorIndex, lexicalIndex, embedder, extractor, routing, contentKG, ghosts, tracker)
	outcomes := services.NewOutcomeService(mongoDB, vectorIndex, lexicalIndex, tracker, routing, contentKG, actions, search, storage)
	promotion := services.NewPromotionService(mongoDB, vectorIndex, lexicalIndex, ghosts)

	metrics := services.InitMetrics()
	vectorBreaker.SetOnOpen(func() { metrics.RecordCircuitOpen("vector") })
	lexicalBreaker.SetOnOpen(func() { metrics.RecordCircuitOpen("lexical") })

	engine := services.NewEngine(storage, search, outcomes, promotion, routing, contentKG, actions, ghosts, tracker, metrics, redisService)
	log.Println("✅ Memory engine assembled")

	// In-memory indexes start empty; repopulate them from the document
	// store before search traffic depends on them.
	if cfg.DataDir == "" {
		go func() {
			rebuildCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := storage.RebuildIndexes(rebuildCtx); err != nil {
				log.Printf("⚠️ Index rebuild failed, reindex sweep will retry: %v", err)
			}
		}()
	}

	// Background maintenance.
	schedules := &jobs.Schedules{
		PromotionCron: engineCfg.Jobs.PromotionCron,
		GhostSweep:    time.Duration(engineCfg.Jobs.GhostSweepMinutes) * time.Minute,
		OrphanCron:    engineCfg.Jobs.OrphanCleanupCron,
		ReindexEvery:  time.Duration(engineCfg.Jobs.ReindexMinutes) * time.Minute,
	}
	maintenance, err := jobs.NewMaintenanceScheduler(mongoDB, promotion, ghosts, contentKG, storage, schedules)
	if err != nil {
		log.Fatalf("❌ Failed to create maintenance scheduler: %v", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	// HTTP surface: health and metrics only. The engine is consumed as
	// a library; the server exists for operability.
	app := fiber.New(fiber.Config{
		AppName:               "Zikaron v1.0",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("zikaron")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()

		status := fiber.Map{
			"status":          "ok",
			"vector_circuit":  vectorIndex.IsCircuitOpen(),
			"lexical_circuit": lexicalIndex.IsCircuitOpen(),
		}
		if err := mongoDB.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["mongodb"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		return c.JSON(status)
	})

	// Operational introspection: per-owner store statistics.
	app.Get("/stats/:owner", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		memStats, err := engine.Storage.GetMemoryStats(ctx, c.Params("owner"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(memStats)
	})

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		maintenance.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		writer.DrainAll(drainCtx)
		cancel()

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
