package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"inboxkb/internal/ai"
	"inboxkb/internal/app"
	"inboxkb/internal/cache"
	"inboxkb/internal/config"
	"inboxkb/internal/kb"
	"inboxkb/internal/model"
	mysqlClient "inboxkb/internal/platform/mysql"
	"inboxkb/internal/platform/qdrant"
	rabbitmqClient "inboxkb/internal/platform/rabbitmq"
	redisClient "inboxkb/internal/platform/redis"
	"inboxkb/internal/repository"
	"inboxkb/internal/worker"
)

type App struct {
	Config          *config.Config
	MySQL           *gorm.DB
	Redis           *redis.Client
	MQConn          *amqp.Connection
	Qdrant          *qdrant.Client
	KBService       *app.KBService
	DocumentService *app.DocumentService
	ReindexWorker   *worker.ReindexWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	embedder, err := ai.NewEmbeddingClient(ai.EmbeddingConfig{
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       cfg.Embedding.APIKey,
		Model:        cfg.Embedding.Model,
		Dimension:    cfg.Embedding.Dimension,
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		Timeout:      time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	qdrantCli, err := qdrant.NewClient(qdrant.Config{
		URL:     cfg.Qdrant.URL,
		APIKey:  cfg.Qdrant.APIKey,
		Timeout: time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	var tokenizer kb.Tokenizer
	if cfg.KB.Tokenizer == "simple" {
		tokenizer = kb.SimpleTokenizer{}
	}
	splitter := kb.NewSplitter(tokenizer)

	kbService := app.NewKBService(splitter, embedder, qdrantCli, app.KBOptions{
		Collection:         cfg.Qdrant.Collection,
		Distance:           cfg.Qdrant.Distance,
		ChunkSize:          cfg.KB.ChunkSize,
		ChunkOverlap:       cfg.KB.ChunkOverlap,
		MaxParallelBatches: cfg.KB.MaxParallelBatches,
		RetryAttempts:      cfg.KB.RetryAttempts,
	})

	docRepo := repository.NewDocumentRepository(mysqlDB)
	statusCache := cache.NewStatusCache(redisCli, time.Duration(cfg.Redis.StatusTTLSeconds)*time.Second)
	publisher := rabbitmqClient.NewReindexPublisher(mqConn, cfg.RabbitMQ.ReindexQueue)
	docService := app.NewDocumentService(docRepo, kbService, statusCache, publisher)

	reindexWorker := worker.NewReindexWorker(mqConn, docService, cfg.RabbitMQ.ReindexQueue)
	if err := reindexWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start reindex worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		Qdrant:          qdrantCli,
		KBService:       kbService,
		DocumentService: docService,
		ReindexWorker:   reindexWorker,
		StartedAt:       time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.ReindexWorker != nil {
		a.ReindexWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
