package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/config"
	"github.com/boddenberg/budget-tracker-go/internal/handler"
	"github.com/boddenberg/budget-tracker-go/internal/infra/cache"
	"github.com/boddenberg/budget-tracker-go/internal/infra/client"
	"github.com/boddenberg/budget-tracker-go/internal/infra/graph"
	"github.com/boddenberg/budget-tracker-go/internal/infra/mail"
	"github.com/boddenberg/budget-tracker-go/internal/infra/messaging"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/infra/redisstore"
	"github.com/boddenberg/budget-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/budget-tracker-go/internal/infra/sqlstore"
	"github.com/boddenberg/budget-tracker-go/internal/port"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"go.uber.org/zap"
)

// historyTurns bounds the stored chat history per user.
const historyTurns = 50

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.Bool("neo4j", cfg.Neo4jURI != ""),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("chroma", cfg.ChromaURL != ""),
		zap.Bool("amqp", cfg.AMQPURL != ""),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("jwt_expires_in", cfg.JWTExpiresIn),
		zap.Int("rate_limit_auth_max", cfg.RateLimitAuthMax),
		zap.Int("rate_limit_api_max", cfg.RateLimitAPIMax),
	)

	ctx := context.Background()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "budget-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	pingers := make(map[string]port.Pinger)

	// --- Relational store (users, categories) ---
	db, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	pingers["database"] = db
	users := sqlstore.NewUserStore(db)
	categories := sqlstore.NewCategoryStore(db)

	// --- Graph store (purchases) ---
	var purchases port.PurchaseStore
	if cfg.Neo4jURI != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			logger.Fatal("failed to connect to neo4j", zap.Error(err))
		}
		defer driver.Close(context.Background())

		store := graph.NewNeo4jStore(driver, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create graph schema", zap.Error(err))
		}
		purchases = store
		pingers["neo4j"] = store
	} else {
		logger.Warn("NEO4J_URI not set, purchases are kept in memory")
		store := graph.NewMemoryStore()
		purchases = store
		pingers["graph"] = store
	}

	// --- Cache, rate limiter, chat history ---
	var (
		respCache port.Cache
		limiter   port.RateLimiter
		history   port.ChatHistory
	)
	if cfg.RedisURL != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		redisCache := redisstore.NewCache(rdb)
		respCache = redisCache
		limiter = redisstore.NewLimiter(rdb)
		history = redisstore.NewHistory(rdb, historyTurns)
		pingers["redis"] = redisCache
	} else {
		logger.Warn("REDIS_URL not set, using in-memory cache and rate limiter")
		store := cache.NewStore(cfg.CacheTTL)
		defer store.Close()
		memLimiter := cache.NewLimiter()
		defer memLimiter.Close()

		respCache = store
		limiter = memLimiter
		history = cache.NewHistory(historyTurns)
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	mistral := client.NewMistralClient(httpClient, client.MistralConfig{
		APIKey:     cfg.MistralAPIKey,
		ChatURL:    cfg.MistralAPIURL,
		Model:      cfg.MistralModel,
		MaxTokens:  cfg.MistralMaxTokens,
		EmbedURL:   cfg.MistralEmbedURL,
		EmbedModel: cfg.MistralEmbedModel,
	}, resilience.NewCircuitBreaker("mistral"), resilienceCfg)
	if cfg.MistralAPIKey == "" {
		logger.Warn("MISTRAL_API_KEY not set, assistant requests will fail upstream")
	}

	var vectors port.VectorStore
	if cfg.ChromaURL != "" {
		chroma := client.NewChromaClient(httpClient, cfg.ChromaURL, mistral, resilience.NewCircuitBreaker("chroma"), resilienceCfg)
		vectors = chroma
		pingers["chroma"] = chroma
	} else {
		logger.Warn("CHROMADB_URL not set, assistant answers without retrieval")
	}

	// --- Indexing ---
	indexer := service.NewIndexer(vectors, metrics, logger)

	var publisher port.IndexPublisher
	if cfg.AMQPURL != "" {
		mq, err := messaging.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer mq.Close()
		publisher = mq
		pingers["amqp"] = mq
	} else {
		logger.Info("AMQP_URL not set, indexing purchases in-process")
		publisher = messaging.NewInProcessPublisher(indexer.Handle)
	}

	// --- Mail ---
	var mailer port.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn("SMTP_HOST not set, password reset mail is logged only")
		mailer = mail.NewLogMailer(logger)
	}

	// --- Services ---
	authSvc := service.NewAuthService(users, mailer, service.AuthConfig{
		JWTSecret:   cfg.JWTSecret,
		AccessTTL:   cfg.JWTExpiresIn,
		ResetTTL:    cfg.ResetTokenTTL,
		FrontendURL: cfg.FrontendURL,
	}, logger)
	categorySvc := service.NewCategoryService(categories, purchases, respCache, metrics, logger)
	purchaseSvc := service.NewPurchaseService(purchases, categories, publisher, respCache, metrics, logger)
	statsSvc := service.NewStatsService(purchases, categories, respCache, cfg.CacheTTL, metrics, logger)
	assistantSvc := service.NewAssistant(vectors, mistral, history, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Auth:          authSvc,
		Categories:    categorySvc,
		Purchases:     purchaseSvc,
		Stats:         statsSvc,
		Assistant:     assistantSvc,
		Limiter:       limiter,
		AuthRateLimit: handler.RateLimitConfig{Max: cfg.RateLimitAuthMax, Window: cfg.RateLimitWindow},
		APIRateLimit:  handler.RateLimitConfig{Max: cfg.RateLimitAPIMax, Window: cfg.RateLimitWindow},
		Pingers:       pingers,
		CORSOrigins:   cfg.CORSOrigins,
		CookieSecure:  cfg.CookieSecure,
		Metrics:       metrics,
		Logger:        logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
