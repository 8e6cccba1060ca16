// Package bootstrap wires the application together.
package bootstrap

import (
	"context"
	"time"

	"helpdesk_worker/adapter/out/mongodb"
	"helpdesk_worker/adapter/out/persistence"
	"helpdesk_worker/adapter/out/provider"
	"helpdesk_worker/config"
	"helpdesk_worker/core/agent/llm"
	"helpdesk_worker/core/agent/rag"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/core/service/draft"
	"helpdesk_worker/core/service/inbound"
	"helpdesk_worker/core/service/ticket"
	"helpdesk_worker/core/service/watch"
	"helpdesk_worker/infra/database"
	"helpdesk_worker/internal/stream"
	"helpdesk_worker/pkg/crypto"
	"helpdesk_worker/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const streamGroup = "helpdesk-workers"

// Dependencies holds every wired component. Both the API and the worker
// build from the same graph.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	MailboxRepo out.MailboxRepository
	ChatRepo    out.ChatRepository
	TicketRepo  out.TicketRepository
	JobRepo     *persistence.JobAdapter
	ArchiveRepo out.MessageArchivePort

	// Provider
	GmailProvider *provider.GmailAdapter

	// Messaging
	Stream   *stream.RedisStream
	Producer out.MessagePublisher

	// Agent
	LLMClient   *llm.Client
	Classifier  *llm.Classifier
	VectorStore *rag.VectorStore
	Responder   *rag.Responder
	Indexer     *rag.Indexer

	// Services
	LeaseManager *watch.LeaseManager
	Resolver     *ticket.ThreadResolver
	Lifecycle    *draft.Lifecycle
	Pipeline     *inbound.Pipeline
	Router       *inbound.Router
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (pgxpool for vector search, sqlx for the repositories)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	sqlDB, err := database.NewSQLx(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })

		deps.Stream = stream.NewRedisStream(redisClient, streamGroup)
		deps.Producer = stream.NewProducer(deps.Stream)
	} else {
		logger.Warn("Redis not configured, webhook processing will run inline")
	}

	// MongoDB archive (optional)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.MongoDB = mongoClient
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Disconnect(ctx)
		})

		archive := mongodb.NewArchiveAdapter(mongoClient.Database(cfg.MongoDBName))
		if err := archive.EnsureIndexes(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to ensure archive indexes")
		}
		deps.ArchiveRepo = archive
	} else {
		logger.Warn("MongoDB not configured, raw message archiving disabled")
	}

	// Token encryption at rest
	var enc *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err = crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// Repositories
	deps.MailboxRepo = persistence.NewMailboxAdapter(sqlDB, enc)
	deps.ChatRepo = persistence.NewChatAdapter(sqlDB)
	deps.TicketRepo = persistence.NewTicketAdapter(sqlDB)
	deps.JobRepo = persistence.NewJobAdapter(sqlDB)

	// Gmail provider
	deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		ProjectID:    cfg.GoogleProjectID,
		PubSubTopic:  cfg.GmailPubSubTopic,
	}, deps.MailboxRepo)

	// LLM + RAG
	deps.LLMClient = llm.NewClient(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: float32(cfg.LLMTemperature),
		Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})
	deps.Classifier = llm.NewClassifier(deps.LLMClient)
	deps.VectorStore = rag.NewVectorStore(db)
	deps.Responder = rag.NewResponder(deps.LLMClient, deps.VectorStore, deps.LLMClient, cfg.RetrievalMinScore)
	deps.Indexer = rag.NewIndexer(deps.JobRepo, deps.JobRepo, deps.LLMClient, deps.VectorStore, deps.Producer)

	// Services
	deps.LeaseManager = watch.NewLeaseManager(deps.MailboxRepo, deps.GmailProvider, cfg.WatchRenewHorizon)
	deps.Resolver = ticket.NewThreadResolver(deps.TicketRepo, cfg.GracePeriodDays)
	deps.Lifecycle = draft.NewLifecycle(deps.ChatRepo, deps.MailboxRepo, deps.GmailProvider, cfg.StatusUpdateRetries)
	deps.Pipeline = inbound.NewPipeline(
		deps.ChatRepo,
		deps.ArchiveRepo,
		deps.Resolver,
		deps.Classifier,
		deps.Responder,
		deps.Lifecycle,
		cfg.RetrievalTopK,
		cfg.AutoSendThreshold,
	)
	deps.Router = inbound.NewRouter(deps.MailboxRepo, deps.ChatRepo, deps.GmailProvider, deps.Pipeline, cfg.RecentFetchWindow)

	return deps, cleanup, nil
}
