// Package bootstrap wires configuration, infrastructure and services
// into runnable API and worker processes.
package bootstrap

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"assistant_server/adapter/out/chat"
	"assistant_server/adapter/out/mongodb"
	"assistant_server/adapter/out/persistence"
	"assistant_server/adapter/out/provider"
	"assistant_server/adapter/out/vector"
	"assistant_server/config"
	"assistant_server/core/agent/llm"
	"assistant_server/core/agent/rag"
	"assistant_server/core/port/out"
	"assistant_server/core/service/approval"
	"assistant_server/core/service/classification"
	"assistant_server/core/service/indexing"
	"assistant_server/core/service/poller"
	"assistant_server/core/service/response"
	"assistant_server/core/service/workflow"
	"assistant_server/infra/database"
	"assistant_server/internal/stream"
	"assistant_server/pkg/crypto"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/ratelimit"
)

const streamGroup = "assistant-workers"

// Dependencies holds every shared component, built once per process.
type Dependencies struct {
	Config *config.Config

	DB    *pgxpool.Pool
	SQLX  *sqlx.DB
	Redis *redis.Client
	Mongo *mongo.Client

	Users         out.UserRepository
	Folders       out.FolderRepository
	Queue         out.QueueRepository
	Workflows     out.WorkflowRepository
	Checkpoints   out.CheckpointStore
	Approvals     out.ApprovalRepository
	DLQ           out.DLQRepository
	Notifications out.NotificationRepository
	Indexing      out.IndexingRepository

	Vectors   out.VectorStore
	Bodies    out.BodyCache
	Providers out.MailProviderFactory

	LLM      out.LLMClient
	Embedder out.Embedder

	Bot      *tgbotapi.BotAPI
	Chat     out.ChatPort
	Stream   *stream.RedisStream
	Producer *stream.Producer

	Poller          *poller.Poller
	ContextBuilder  *rag.ContextBuilder
	Classifier      *classification.Classifier
	Priority        *classification.PriorityDetector
	Drafter         *response.Drafter
	Indexer         *indexing.Indexer
	ApprovalService *approval.Service
	Engine          *workflow.Engine
}

// NewDependencies builds the dependency graph. The returned cleanup
// closes every connection it opened.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	if err := crypto.Init(); err != nil {
		return nil, nil, err
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	sqlxDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, run locks and rate limits degrade to local")
			redisClient = nil
		}
	}

	var mongoClient *mongo.Client
	var bodies out.BodyCache
	if cfg.MongoDBURL != "" {
		mongoClient, err = database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, email bodies will not be cached")
			mongoClient = nil
		} else {
			bodies = mongodb.NewBodyCacheAdapter(mongoClient.Database(cfg.MongoDBName))
		}
	}

	// Repositories
	users := persistence.NewUserAdapter(sqlxDB)
	folders := persistence.NewFolderAdapter(sqlxDB)
	queue := persistence.NewQueueAdapter(sqlxDB)
	workflows := persistence.NewWorkflowAdapter(sqlxDB)
	checkpoints := persistence.NewCheckpointAdapter(sqlxDB)
	approvals := persistence.NewApprovalAdapter(sqlxDB)
	dlq := persistence.NewDLQAdapter(sqlxDB)
	notifications := persistence.NewManualNotificationAdapter(sqlxDB)
	indexingRepo := persistence.NewIndexingAdapter(sqlxDB)
	vectors := vector.NewPgVectorStore(db)

	// Providers
	providers := provider.NewGmailFactory(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, users)

	// AI clients
	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:          cfg.OpenAIAPIKey,
		Model:           cfg.LLMModel,
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		MaxRetries:      cfg.LLMMaxRetries,
		TokensPerMinute: cfg.LLMTokensPerMinute,
	})
	embedLimiter := ratelimit.NewSlidingWindowLimiter(redisClient, cfg.EmbeddingsPerSecond, time.Second)
	embedder := rag.NewOpenAIEmbedder(rag.EmbedderConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.EmbeddingModel,
	}, embedLimiter)

	// Chat channel
	var bot *tgbotapi.BotAPI
	var chatPort out.ChatPort
	if cfg.TelegramBotToken != "" {
		bot, err = chat.NewBot(cfg.TelegramBotToken)
		if err != nil {
			logger.WithError(err).Warn("Telegram bot unavailable, approvals will queue as manual notifications")
		} else {
			chatPort = chat.NewTelegramAdapter(bot)
		}
	}

	// Services
	contextBuilder := rag.NewContextBuilder(queue, providers, embedder, vectors, bodies, rag.ContextConfig{
		ThreadHistoryLimit: cfg.ThreadHistoryLimit,
		ShortThreadK:       cfg.ShortThreadK,
		StandardK:          cfg.StandardK,
		LongThreadK:        cfg.LongThreadK,
		MaxContextTokens:   cfg.MaxContextTokens,
	})
	classifier := classification.NewClassifier(llmClient, queue, folders)
	priority := classification.NewPriorityDetector(cfg.PriorityThreshold)
	drafter := response.NewDrafter(llmClient, queue,
		response.NewValidator(cfg.DraftMinLen, cfg.DraftMaxLen))
	indexer := indexing.NewIndexer(users, providers, embedder, vectors, indexingRepo, chatPort, indexing.Config{
		PageSize:        cfg.IndexingPageSize,
		BatchSize:       cfg.IndexingBatchSize,
		InterBatchDelay: time.Duration(cfg.IndexingRateLimitDelaySeconds) * time.Second,
		DaysBack:        cfg.IndexingDaysBack,
		MaxRetries:      cfg.IndexingMaxRetries,
	})
	mailPoller := poller.NewPoller(users, providers, queue, poller.Config{
		MaxResults:     cfg.PollMaxResults,
		InterUserDelay: time.Duration(cfg.PollInterUserDelayMS) * time.Millisecond,
	})

	approvalService := approval.NewService(chatPort, users, queue, folders, workflows, notifications)

	engine := workflow.NewEngine(workflow.EngineDeps{
		Queue:          queue,
		Users:          users,
		Folders:        folders,
		Workflows:      workflows,
		Checkpoints:    checkpoints,
		Approvals:      approvals,
		DLQ:            dlq,
		Providers:      providers,
		ContextBuilder: contextBuilder,
		Classifier:     classifier,
		Priority:       priority,
		Drafter:        drafter,
		Notifier:       approvalService,
		Indexer:        indexer,
		Lock:           workflow.NewRunLock(redisClient, 5*time.Minute),
	}, workflow.EngineConfig{
		MaxNodeRetries: cfg.MaxNodeRetries,
		BackoffBase:    cfg.BackoffBase(),
	})
	approvalService.SetRunner(engine)

	var redisStream *stream.RedisStream
	var producer *stream.Producer
	if redisClient != nil {
		redisStream = stream.NewRedisStream(redisClient, streamGroup)
		producer = stream.NewProducer(redisStream)
	}

	deps := &Dependencies{
		Config:          cfg,
		DB:              db,
		SQLX:            sqlxDB,
		Redis:           redisClient,
		Mongo:           mongoClient,
		Users:           users,
		Folders:         folders,
		Queue:           queue,
		Workflows:       workflows,
		Checkpoints:     checkpoints,
		Approvals:       approvals,
		DLQ:             dlq,
		Notifications:   notifications,
		Indexing:        indexingRepo,
		Vectors:         vectors,
		Bodies:          bodies,
		Providers:       providers,
		LLM:             llmClient,
		Embedder:        embedder,
		Bot:             bot,
		Chat:            chatPort,
		Stream:          redisStream,
		Producer:        producer,
		Poller:          mailPoller,
		ContextBuilder:  contextBuilder,
		Classifier:      classifier,
		Priority:        priority,
		Drafter:         drafter,
		Indexer:         indexer,
		ApprovalService: approvalService,
		Engine:          engine,
	}

	cleanup := func() {
		if mongoClient != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = mongoClient.Disconnect(ctx)
			cancel()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = sqlxDB.Close()
		db.Close()
	}

	return deps, cleanup, nil
}
