package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"souschef/internal/agents"
	"souschef/internal/breaker"
	"souschef/internal/config"
	"souschef/internal/database"
	"souschef/internal/handlers"
	"souschef/internal/intent"
	"souschef/internal/jobs"
	"souschef/internal/llm"
	"souschef/internal/logging"
	"souschef/internal/memory"
	"souschef/internal/middleware"
	"souschef/internal/models"
	"souschef/internal/rag"
	"souschef/internal/services"
	"souschef/internal/vector"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting SousChef Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// Initialize the transcript archive
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("❌ Failed to create data directory: %v", err)
		}
	}
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Optional Redis cache tier for retrieval results
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Invalid REDIS_URL, shared cache disabled: %v", err)
		} else {
			redisClient = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				log.Printf("⚠️  Redis unreachable, shared cache disabled: %v", err)
				redisClient = nil
			} else {
				log.Println("✅ Redis connected")
				defer redisClient.Close()
			}
			cancel()
		}
	}

	// LLM client (OpenAI-compatible: Ollama, llama.cpp, vLLM...)
	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.EmbedModel)
	log.Printf("🧠 LLM endpoint: %s (model: %s)", cfg.LLMBaseURL, cfg.LLMModel)

	// Knowledge base and external search
	store := vector.NewStore(llmClient)
	searx := rag.NewSearXNGClient(cfg.SearXNGURL)
	coordinator := rag.NewCoordinator(store, searx,
		rag.NewQueryCache(cfg.RAGCacheTTL, redisClient),
		models.RetrievalOptions{
			TopK:          cfg.RAGTopK,
			MinSimilarity: cfg.RAGMinSimilarity,
		})

	// Agent roster (agents.yaml, hot-reloaded on change)
	agentStore, err := config.LoadAgents(cfg.AgentsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load agent roster: %v", err)
	}
	if err := agentStore.Watch(); err != nil {
		log.Printf("⚠️  Agent roster hot reload disabled: %v", err)
	}
	defer agentStore.Close()

	// One breaker per agent, tuned from the roster
	breakerSettings := make(map[string]breaker.Settings)
	for _, spec := range agentStore.Agents() {
		if spec.Breaker.FailureThreshold > 0 {
			breakerSettings[spec.Type] = breaker.Settings{
				FailureThreshold: spec.Breaker.FailureThreshold,
				Cooldown:         spec.Breaker.Cooldown.Std(),
			}
		}
	}
	breakers := breaker.NewRegistry(breaker.Settings{}, breakerSettings)

	// Session memory; evicted sessions flush to the archive
	mem := memory.NewManager(cfg.SessionTTL, func(session *models.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.ArchiveSession(ctx, session); err != nil {
			log.Printf("❌ Failed to archive session %s: %v", session.ID, err)
		}
	})

	// Agent registry
	registry, err := agents.NewRegistry(models.AgentGeneral, map[string]agents.Factory{
		models.AgentGeneral:  func() (agents.Agent, error) { return agents.NewGeneralAgent(llmClient, agentStore), nil },
		models.AgentChef:     func() (agents.Agent, error) { return agents.NewChefAgent(llmClient, agentStore), nil },
		models.AgentShopping: func() (agents.Agent, error) { return agents.NewShoppingAgent(llmClient, agentStore), nil },
		models.AgentSearch:   func() (agents.Agent, error) { return agents.NewSearchAgent(llmClient, agentStore), nil },
		models.AgentWeather:  func() (agents.Agent, error) { return agents.NewWeatherAgent(agentStore), nil },
	})
	if err != nil {
		log.Fatalf("❌ Failed to build agent registry: %v", err)
	}

	// Intent detection
	classifier := intent.NewLLMClassifier(llmClient, agentStore)
	detector := intent.NewDetector(agentStore, classifier, cfg.ClassifierFirst, cfg.ClassifierThreshold)

	// Metrics and the orchestrator itself
	metrics := services.InitMetrics(mem, coordinator)
	orchestrator := services.NewOrchestrator(detector, registry, breakers, mem, coordinator, metrics, cfg.AgentTimeout)

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	if err := scheduler.RegisterSessionSweep(mem, cfg.SweepInterval); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := scheduler.RegisterRetentionCleanup(db, cfg.ArchiveRetention); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := scheduler.RegisterBreakerMonitor(breakers, time.Minute); err != nil {
		log.Fatalf("❌ %v", err)
	}
	scheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "SousChef v1.0",
		ReadTimeout:  300 * time.Second, // local models can take minutes on cold start
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  300 * time.Second,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("souschef")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Rate limiting
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Chat=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.ChatMax)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers and routes
	healthHandler := handlers.NewHealthHandler(orchestrator, registry, coordinator, store)
	chatHandler := handlers.NewChatHandler(orchestrator)
	sessionHandler := handlers.NewSessionHandler(mem, db)
	knowledgeHandler := handlers.NewKnowledgeHandler(store)

	app.Get("/health", healthHandler.Handle)
	app.Get("/health/agents", healthHandler.Agents)
	app.Post("/api/chat", middleware.ChatRateLimiter(rateLimitConfig), chatHandler.Handle)
	app.Get("/api/sessions/:id", sessionHandler.Get)
	app.Delete("/api/sessions/:id", sessionHandler.Delete)
	app.Post("/api/knowledge", knowledgeHandler.Ingest)

	log.Printf("💬 Chat endpoint: http://localhost:%s/api/chat", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop background jobs
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("⚠️ Error stopping scheduler: %v", err)
		}

		// Flush every live session to the archive before exit
		if n := mem.CloseAll(); n > 0 {
			log.Printf("💾 Flushed %d live sessions to the archive", n)
		}

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
