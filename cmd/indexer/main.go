// Command indexer mirrors purchase events from RabbitMQ into the vector
// store and seeds the general tips collection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/boddenberg/budget-tracker-go/internal/config"
	"github.com/boddenberg/budget-tracker-go/internal/infra/client"
	"github.com/boddenberg/budget-tracker-go/internal/infra/messaging"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	seed := flag.Bool("seed", false, "seed tips from TIPS_FILE and exit")
	seedFile := flag.String("seed-tips", "", "seed tips from this JSON file and exit")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if cfg.ChromaURL == "" {
		logger.Fatal("CHROMADB_URL is required")
	}

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "budget-indexer")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	metrics := observability.NewMetrics()
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	embedder := client.NewMistralClient(httpClient, client.MistralConfig{
		APIKey:     cfg.MistralAPIKey,
		ChatURL:    cfg.MistralAPIURL,
		Model:      cfg.MistralModel,
		MaxTokens:  cfg.MistralMaxTokens,
		EmbedURL:   cfg.MistralEmbedURL,
		EmbedModel: cfg.MistralEmbedModel,
	}, resilience.NewCircuitBreaker("mistral"), resilienceCfg)
	chroma := client.NewChromaClient(httpClient, cfg.ChromaURL, embedder, resilience.NewCircuitBreaker("chroma"), resilienceCfg)
	indexer := service.NewIndexer(chroma, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Seeding ---
	if *seed && *seedFile == "" {
		*seedFile = cfg.TipsFile
	}
	if *seedFile != "" {
		tips, err := loadTips(*seedFile)
		if err != nil {
			logger.Fatal("failed to read tips", zap.String("file", *seedFile), zap.Error(err))
		}
		n, err := indexer.SeedTips(ctx, tips)
		if err != nil {
			logger.Fatal("failed to seed tips", zap.Int("seeded", n), zap.Error(err))
		}
		logger.Info("tips seeded", zap.Int("count", n), zap.String("file", *seedFile))
		return
	}

	// --- Consumer ---
	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required to consume index events")
	}
	mq, err := messaging.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer mq.Close()

	err = mq.Consume(ctx, cfg.MaxConcurrency, indexer.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
		return
	}
	logger.Info("indexer stopped")
}

// loadTips reads a JSON array of strings, dropping empty entries.
func loadTips(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tips []string
	if err := json.Unmarshal(raw, &tips); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := tips[:0]
	for _, t := range tips {
		if t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}
