package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"pazarglobal/internal/app"
	"pazarglobal/internal/compose"
	"pazarglobal/internal/config"
	"pazarglobal/internal/identity"
	"pazarglobal/internal/intent"
	"pazarglobal/internal/publish"
	"pazarglobal/internal/ratelimit"
	"pazarglobal/internal/search"
	"pazarglobal/internal/server"
	"pazarglobal/internal/util"
	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/events"
	"pazarglobal/pkg/keywords"
	"pazarglobal/pkg/queue"
	"pazarglobal/pkg/session"
	"pazarglobal/pkg/storage"
	"pazarglobal/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)
	intent.Extend(cfg.KeywordOverrides)

	st, err := store.NewGormStore(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var sessions session.Cache = session.NewMemoryCache(cfg.SessionHistoryMax)
	if cfg.RedisAddr != "" {
		redisCache := session.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ParseSessionTTL(), cfg.SessionHistoryMax)
		sessions = session.NewFallbackCache(redisCache, session.NewMemoryCache(cfg.SessionHistoryMax))
	} else {
		slog.Warn("redis not configured, sessions are process-local")
	}

	llm := ai.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMVisionModel)

	var mirror storage.MediaMirror = storage.PassthroughMirror{}
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		mirror = minioStore
	} else {
		slog.Warn("minio not configured, media URLs are stored as received")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.MessageRateLimitPerMinute > 0 && cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.MessageRateLimitPerMinute, time.Minute, true)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	vision := ai.VisionAnalyzer(nil)
	if cfg.LLMVisionModel != "" {
		vision = llm
	}

	flow := publish.NewFlow(st, keywords.NewGenerator(llm), publisher, cfg.ListingCreditCost, cfg.AllowedCategories)
	if cfg.RedisAddr != "" {
		priceQueue, err := queue.NewPriceQueue(queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("failed to init price feed: %v", err)
		}
		priceQueue.Start(context.Background(), 1, func(ctx context.Context, obs queue.Observation) error {
			return st.RecordMarketPrice(ctx, obs.ProductKey, obs.Category, obs.Price)
		})
		flow.SetPriceFeed(priceFeed{priceQueue})
	}

	core := app.New(
		sessions,
		st,
		identity.NewNormalizer(cfg.IdentityNamespace),
		intent.NewResolver(intent.NewClassifier(llm)),
		compose.NewOrchestrator(st, compose.NewFieldWorkers(llm, cfg.AllowedCategories), vision, mirror, llm, publisher, cfg.AllowedCategories),
		flow,
		search.NewAggregator(st, cfg.AllowedCategories, cfg.SearchResultLimit),
		llm,
		vision,
	)

	httpServer := server.New(server.Config{
		App:          core,
		Sessions:     sessions,
		Limiter:      limiter,
		HistoryLimit: cfg.SessionHistoryMax,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("assistant listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

// priceFeed adapts the price queue to the publish flow's interface.
type priceFeed struct {
	queue *queue.PriceQueue
}

func (p priceFeed) EnqueuePrice(ctx context.Context, productKey, category string, price float64) error {
	_, err := p.queue.EnqueuePrice(ctx, productKey, category, price)
	return err
}
