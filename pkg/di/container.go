package di

import (
	"context"
	"fmt"
	"time"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/repository"
	"ai-baas/backend/conversation/service"
	"ai-baas/backend/pkg/cache"
	"ai-baas/backend/pkg/config"
	"ai-baas/backend/pkg/health"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/resilience"
	"ai-baas/backend/pkg/secrets"
	"ai-baas/backend/retrieval/embedding"
	"ai-baas/backend/retrieval/index"
	retrieval "ai-baas/backend/retrieval/service"
	"ai-baas/backend/shared/observability"
	"ai-baas/backend/shared/redis"

	"gorm.io/gorm"
)

const healthPeriod = 30 * time.Second

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *observability.Metrics

	Completer ai.Completer
	Estimator ai.TokenEstimator
	Index     index.VectorIndex

	Threads       *service.ThreadResolver
	Branches      *service.BranchManager
	Ledger        *service.TokenLedger
	Conversations *service.ConversationService
	Assembler     *service.ContextAssembler
	Chat          *service.ChatService
	Augmentor     *retrieval.Augmentor
	Health        *health.Checker

	vectors *cache.Cache[[]float32]
	closers []func() error
}

// Overrides replaces upstream clients. Nil fields are built from config.
type Overrides struct {
	Completer ai.Completer
	Estimator ai.TokenEstimator
	Embedder  embedding.Embedder
	Index     index.VectorIndex
}

// New wires repositories, upstream clients and services. db must already be
// migrated. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger, metrics *observability.Metrics, sm secrets.Manager, ov Overrides) (*Container, error) {
	c := &Container{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		Metrics: metrics,
		Health:  health.NewChecker(log, healthPeriod),
	}
	c.Health.RegisterPing("database", true, func(ctx context.Context) error { return config.Ping(ctx, db) })

	embedder, err := c.buildEmbedder(ctx, sm, ov.Embedder)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Index = ov.Index
	if c.Index == nil {
		if c.Index, err = c.buildIndex(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.Completer = ov.Completer
	if c.Completer == nil {
		model, err := ai.NewOpenAIModel(ai.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  sm.GetSecretWithDefault(ctx, "llm_api_key", cfg.LLM.APIKey),
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Completer = ai.NewLangchainCompleter(model, c.breaker("llm"), cfg.LLM.Timeout, log)
	}

	c.Estimator = ov.Estimator
	if c.Estimator == nil {
		c.Estimator = ai.NewTiktokenEstimator()
	}

	messages := repository.NewGormMessageRepository(db)
	configs := repository.NewGormConfigRepository(db)
	defaults := service.EffectiveConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		RAGResults:  cfg.Retrieval.DefaultResults,
	}

	c.Threads = service.NewThreadResolver(messages)
	c.Branches = service.NewBranchManager(repository.NewGormBranchRepository(db), messages, c.Threads, log)
	c.Ledger = service.NewTokenLedger(messages, metrics, log)
	c.Conversations = service.NewConversationService(repository.NewGormConversationRepository(db), messages, configs, c.Ledger, defaults)
	c.Assembler = service.NewContextAssembler(c.Estimator, cfg.Context.ReservationRatio, cfg.Context.DefaultMaxInputTokens, metrics, log)
	c.Augmentor = retrieval.NewAugmentor(embedder, c.Index, cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, metrics, log)

	var retriever service.DocumentRetriever
	if cfg.Retrieval.Enabled {
		retriever = c.Augmentor
	}
	c.Chat = service.NewChatService(service.ChatDeps{
		Conversations: c.Conversations,
		Messages:      messages,
		Configs:       configs,
		Branches:      c.Branches,
		Threads:       c.Threads,
		Assembler:     c.Assembler,
		Ledger:        c.Ledger,
		Completer:     c.Completer,
		Estimator:     c.Estimator,
		Retriever:     retriever,
		Defaults:      defaults,
		Metrics:       metrics,
		Logger:        log,
	})

	return c, nil
}

func (c *Container) breaker(name string) *resilience.CircuitBreaker {
	bc := resilience.DefaultConfig(name)
	if c.Config.Features.CircuitMaxFailures > 0 {
		bc.FailureThreshold = uint(c.Config.Features.CircuitMaxFailures)
	}
	if c.Config.Features.CircuitResetTimeout > 0 {
		bc.ResetTimeout = c.Config.Features.CircuitResetTimeout
	}
	return resilience.NewCircuitBreaker(bc, c.Logger)
}

// buildEmbedder puts a vector cache in front of the embedder: redis when
// configured, process memory otherwise.
func (c *Container) buildEmbedder(ctx context.Context, sm secrets.Manager, next embedding.Embedder) (embedding.Embedder, error) {
	cfg := c.Config
	if next == nil {
		e, err := embedding.NewOpenAIEmbedder(embedding.Config{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  sm.GetSecretWithDefault(ctx, "embedding_api_key", cfg.Embedding.APIKey),
			Model:   cfg.Embedding.Model,
		}, c.breaker("embedding"))
		if err != nil {
			return nil, err
		}
		next = e
	}

	var vc embedding.VectorCache
	if cfg.Redis.Addr != "" {
		client := redis.NewRedisClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client.Close)
		c.Health.RegisterPing("redis", false, client.Ping)
		vc = embedding.NewRedisVectorCache(client, cfg.Embedding.CacheTTL, c.Logger)
	} else {
		c.vectors = cache.New[[]float32](cfg.Embedding.CacheTTL, cfg.Cache.MaxSize)
		vc = embedding.NewMemoryVectorCache(c.vectors)
	}
	return embedding.NewCachedEmbedder(next, vc, cfg.Embedding.Model), nil
}

func (c *Container) buildIndex(ctx context.Context) (index.VectorIndex, error) {
	cfg := c.Config
	if !cfg.Qdrant.Enabled {
		c.Logger.Warn("Qdrant disabled, using in-memory vector index")
		return index.NewMemoryIndex(), nil
	}

	q, err := index.NewQdrantIndex(index.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		Dimension:  uint64(cfg.Embedding.Dimension),
	}, c.breaker("vector_index"), c.Logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, q.Close)
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare qdrant collection: %w", err)
	}
	c.Health.RegisterPing("qdrant", false, q.Ping)
	return q, nil
}

// Start runs the background loops until ctx is done
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
	if c.vectors != nil {
		go c.vectors.RunCleanup(ctx, c.Config.Cache.PurgeWindow)
	}
}

// Close releases upstream connections
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("Failed to close dependency", "error", err.Error())
		}
	}
	c.closers = nil
}
