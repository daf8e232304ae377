package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"ragout-bot/internal/config"
	"ragout-bot/internal/controller"
	"ragout-bot/internal/handler"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/pkg/mailer"
	"ragout-bot/internal/repository/contract"
	"ragout-bot/internal/repository/memory"
	"ragout-bot/internal/repository/redisstore"
	"ragout-bot/internal/service"
	"ragout-bot/internal/transport/telegram"
	"ragout-bot/internal/websocket"
	"ragout-bot/pkg/database"
	"ragout-bot/pkg/embedding"
	"ragout-bot/pkg/knowledge"
	"ragout-bot/pkg/llm/factory"
	pktNats "ragout-bot/pkg/nats"
	"ragout-bot/pkg/objectstore"
	"ragout-bot/pkg/vectorstore"
	memstore "ragout-bot/pkg/vectorstore/memory"
	"ragout-bot/pkg/vectorstore/pgstore"
	"ragout-bot/pkg/vectorstore/qdrant"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	Logger logger.ILogger

	// Controllers
	BotController      controller.IBotController
	TelegramController controller.ITelegramController // nil unless webhook mode
	ChatHandler        *handler.ChatHandler

	Dispatcher service.IDispatcher

	// Background services (run by main)
	CleanupService *service.CleanupService
	AuditService   *service.AuditService // nil without NATS
	WebSocketHub   *websocket.Hub
	TelegramBot    *telegram.Bot    // nil when Telegram is disabled
	TelegramClient *telegram.Client // nil when Telegram is disabled

	Sessions        *memory.SessionRepository
	Knowledge       *knowledge.Service
	VectorStore     vectorstore.Store
	VectorStoreName string

	closers []func()
}

// NewContainer wires every dependency. runCtx bounds background work started
// on behalf of webhook requests and must outlive the HTTP server.
func NewContainer(runCtx context.Context, cfg *config.Config) (*Container, error) {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	auditLogger := logger.NewIsolatedLogger(cfg.App.AuditLogPath)

	msgs, err := config.LoadMessages(cfg.App.MessagesFile)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	c := &Container{Logger: sysLogger}

	// 2. AI providers
	llmProvider, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, llmBaseURL(cfg), cfg.Ai.OpenAIKey)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	embeddingProvider, err := embedding.NewEmbeddingProvider(
		cfg.Ai.EmbeddingProvider,
		cfg.Ai.EmbeddingModel,
		embeddingBaseURL(cfg),
		cfg.Ai.OpenAIKey,
		cfg.Ai.EmbeddingDimensions,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	log.Printf("[INFO] Using Embedding Provider: %s (%s)", cfg.Ai.EmbeddingProvider, cfg.Ai.EmbeddingModel)

	// 3. Vector storage
	store, err := c.newVectorStore(cfg)
	if err != nil {
		return nil, err
	}
	c.VectorStore = store
	c.VectorStoreName = cfg.Storage.VectorStore
	c.Knowledge = knowledge.NewService(embeddingProvider, store, knowledge.Config{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
	})

	// 4. Infrastructure, all optional
	var rdb *redis.Client
	if cfg.Infra.RedisURL != "" {
		rdb, err = newRedis(runCtx, cfg.Infra.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v (key ledger stays in memory)", err)
			rdb = nil
		} else {
			c.closers = append(c.closers, func() { rdb.Close() })
		}
	}

	var ledger contract.KeyLedger = memory.NewKeyLedger()
	if rdb != nil {
		ledger = redisstore.NewKeyLedger(rdb)
	}

	var eventBus service.IEventBus
	var eventSource service.IEventSource
	if cfg.Infra.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Infra.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			eventBus = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err := pktNats.NewSubscriber(cfg.Infra.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			eventSource = natsSub
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	var archive service.IDocumentArchive
	if cfg.Infra.MinioEndpoint != "" {
		a, err := newArchive(runCtx, cfg)
		if err != nil {
			log.Printf("[WARN] Upload archive disabled: %v", err)
		} else {
			archive = a
		}
	}

	var alertMailer mailer.IEmailService
	if cfg.SMTP.Host != "" && cfg.SMTP.AlertEmail != "" {
		alertMailer = mailer.NewEmailService(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Email,
			cfg.SMTP.Password,
			cfg.SMTP.SenderName,
			cfg.SMTP.AlertEmail,
		)
	}

	// 5. Cleanup queue (in-process)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { pubSub.Close() })

	// 6. Services
	events := service.NewEventPublisher(eventBus, sysLogger)
	cleanupQueue := service.NewCleanupQueue(pubSub, cfg.Infra.CleanupTopic, events)

	c.Sessions = memory.NewSessionRepository()
	registry := service.NewSessionRegistry(c.Sessions, c.Knowledge, ledger, cleanupQueue, events, sysLogger,
		service.RegistryConfig{
			Persona:        msgs.Persona,
			InitialBackoff: cfg.Retry.InitialDelay,
		})

	retrieval := service.NewRetrievalService(c.Knowledge, cfg.Retrieval.TopK, msgs.GroundingPrompt)
	conversation := service.NewConversationService(registry, retrieval, llmProvider, service.RetryPolicy{
		Initial:     cfg.Retry.InitialDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Jitter:      cfg.Retry.Jitter,
		Timeout:     cfg.Retry.Timeout,
	}, sysLogger)
	dispatcher := service.NewDispatcher(registry, conversation, archive, msgs, sysLogger)
	c.Dispatcher = dispatcher

	c.CleanupService = service.NewCleanupService(pubSub, c.Knowledge, ledger, registry, alertMailer, events, sysLogger,
		service.CleanupConfig{
			Topic:       cfg.Infra.CleanupTopic,
			MaxAttempts: cfg.Infra.CleanupMaxAttempts,
		})
	if eventSource != nil {
		c.AuditService = service.NewAuditService(eventSource, auditLogger)
	}

	// 7. Transports
	if cfg.Telegram.Mode != "disabled" {
		if cfg.Telegram.Token == "" {
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required unless TELEGRAM_MODE=disabled")
		}
		c.TelegramClient = telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL)
		c.TelegramBot = telegram.NewBot(c.TelegramClient, dispatcher, sysLogger, telegram.Config{
			Workers:     cfg.Telegram.Workers,
			PollTimeout: cfg.Telegram.PollTimeout,
		})
		if cfg.Telegram.Mode == "webhook" {
			c.TelegramController = controller.NewTelegramController(runCtx, c.TelegramBot, cfg.Telegram.WebhookSecret, sysLogger)
		}
	}

	c.WebSocketHub = websocket.NewHub(rdb, sysLogger)
	c.ChatHandler = handler.NewChatHandler(dispatcher, c.WebSocketHub, cfg.App.JwtSecret, sysLogger)
	c.BotController = controller.NewBotController(dispatcher, registry, cfg.App.JwtSecret)

	return c, nil
}

// Close releases infrastructure connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}

func (c *Container) newVectorStore(cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Storage.VectorStore {
	case "", "memory":
		return memstore.NewStore(), nil
	case "pgvector":
		if cfg.Storage.DBConnection == "" {
			return nil, fmt.Errorf("DB_CONNECTION_STRING is required for VECTOR_STORE=pgvector")
		}
		db, err := database.NewGormDBFromDSN(cfg.Storage.DBConnection)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			c.closers = append(c.closers, func() { sqlDB.Close() })
		}
		return pgstore.NewStore(db), nil
	case "qdrant":
		return qdrant.NewStore(qdrant.Config{
			URL:        cfg.Storage.QdrantURL,
			APIKey:     cfg.Storage.QdrantAPIKey,
			Collection: cfg.Storage.QdrantCollection,
		}), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE %q", cfg.Storage.VectorStore)
	}
}

func llmBaseURL(cfg *config.Config) string {
	if cfg.Ai.LLMProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return cfg.Ai.OpenAIBaseURL
}

func embeddingBaseURL(cfg *config.Config) string {
	if cfg.Ai.EmbeddingProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return cfg.Ai.OpenAIBaseURL
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func newArchive(ctx context.Context, cfg *config.Config) (*objectstore.Archive, error) {
	client, err := objectstore.NewClient(cfg.Infra.MinioEndpoint, cfg.Infra.MinioAccessKey, cfg.Infra.MinioSecretKey, cfg.Infra.MinioUseSSL)
	if err != nil {
		return nil, err
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(ensureCtx, client, cfg.Infra.MinioBucket); err != nil {
		return nil, err
	}
	return objectstore.NewArchive(client, cfg.Infra.MinioBucket), nil
}
