package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/ai"
	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/memory"
	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/hmo-assist/internal/adapters/driven/redis"
	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/sqlite"
	"github.com/custodia-labs/hmo-assist/internal/adapters/driven/vespa"
	"github.com/custodia-labs/hmo-assist/internal/config"
	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/core/services"
	"github.com/custodia-labs/hmo-assist/internal/knowledge"
	"github.com/custodia-labs/hmo-assist/internal/normalisers"
	"github.com/custodia-labs/hmo-assist/internal/postprocessors"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

// app is the wired object graph shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	index    driven.VectorIndex
	lock     driven.DistributedLock
	services *runtime.Services
	loader   *knowledge.Loader

	answers   driving.AnswerService
	chat      driving.ChatService
	ingestion driving.IngestionService
	health    driving.HealthService

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLock(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectModels(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.loader = knowledge.NewLoader(normalisers.DefaultRegistry(), logger)
	a.answers = services.NewAnswerService(services.AnswerConfig{
		Index:      a.index,
		Services:   a.services,
		TopK:       cfg.Retrieval.TopK,
		MaxHistory: cfg.Retrieval.MaxHistory,
		Logger:     logger,

		PlannerTemperature: cfg.LLM.PlannerTemperature,
	})
	a.chat = services.NewChatService(services.ChatConfig{
		Services:   a.services,
		Answers:    a.answers,
		MaxHistory: cfg.Retrieval.MaxHistory,
		Logger:     logger,
	})
	a.ingestion = services.NewIngestionService(services.IngestionConfig{
		Index:     a.index,
		Lock:      a.lock,
		Chunker:   services.NewChunker(postprocessors.DefaultPipeline()),
		Services:  a.services,
		BatchSize: cfg.Ingestion.BatchSize,
		LockTTL:   cfg.Ingestion.LockTTL,
		Logger:    logger,
	})
	a.health = services.NewHealthService(a.index, a.services, cfg.Server.HealthProbe, logger)

	rc := a.services.Config()
	logger.Info("runtime configured",
		zap.String("index_backend", rc.IndexBackend),
		zap.String("lock_backend", rc.LockBackend),
		zap.Bool("embedding", rc.EmbeddingAvailable()),
		zap.Bool("llm", rc.LLMAvailable()),
	)
	return a, nil
}

func (a *app) openIndex(ctx context.Context) error {
	switch a.cfg.Index.Backend {
	case config.BackendMemory:
		a.index = memory.NewIndex()

	case config.BackendSQLite:
		idx, err := sqlite.Open(a.cfg.Index.SQLitePath)
		if err != nil {
			return err
		}
		a.index = idx
		a.closers = append(a.closers, idx.Close)

	case config.BackendPostgres:
		pgCfg := postgres.DefaultConfig(a.cfg.Index.PostgresURL)
		if a.cfg.Index.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = a.cfg.Index.MaxOpenConns
		}
		if a.cfg.Index.MaxIdleConns > 0 {
			pgCfg.MaxIdleConns = a.cfg.Index.MaxIdleConns
		}
		if a.cfg.Index.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = a.cfg.Index.ConnMaxLifetime
		}
		db, err := postgres.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		a.index = postgres.NewVectorIndex(db)
		a.lock = postgres.NewAdvisoryLock(db)

	case config.BackendVespa:
		if a.cfg.Index.VespaDeploy {
			deployer, err := vespa.NewDeployer(a.cfg.Index.VespaConfigURL)
			if err != nil {
				return err
			}
			if err := deployer.Deploy(ctx, a.embeddingDimensions()); err != nil {
				return err
			}
		}
		idx, err := vespa.NewIndex(vespa.DefaultConfig(a.cfg.Index.VespaURL))
		if err != nil {
			return err
		}
		a.index = idx

	default:
		return fmt.Errorf("unknown index backend %q", a.cfg.Index.Backend)
	}
	a.logger.Info("index opened", zap.String("backend", a.cfg.Index.Backend))
	return nil
}

// openLock prefers Redis, then Postgres advisory locks, then an in-process lock
func (a *app) openLock(ctx context.Context) error {
	if a.cfg.Redis.URL != "" {
		client, err := redisadapter.Connect(ctx, a.cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.lock = redisadapter.NewLock(client)
	}
	if a.lock == nil {
		a.lock = memory.NewLock()
	}
	return nil
}

// embeddingDimensions sizes the Vespa tensor field
func (a *app) embeddingDimensions() int {
	if d := a.cfg.Embedding.Dimensions; d > 0 {
		return d
	}
	return ai.Dimensions(a.cfg.Embedding.Model)
}

func (a *app) lockBackend() string {
	switch a.lock.(type) {
	case *redisadapter.Lock:
		return "redis"
	case *postgres.AdvisoryLock:
		return "postgres"
	default:
		return "local"
	}
}

// connectModels builds the model clients. Missing credentials leave a
// service unset so the process still serves health and stats. With
// verify_models a client that fails its ping is closed and left unset.
func (a *app) connectModels(ctx context.Context) error {
	res := a.cfg.Resilience
	guard := runtime.NewGuard(res.MaxConcurrentCalls, runtime.RetryPolicy{
		MaxAttempts:    res.MaxAttempts,
		InitialBackoff: res.InitialBackoff,
		MaxBackoff:     res.MaxBackoff,
	}, a.logger)
	a.services = runtime.NewServices(domain.NewRuntimeConfig(a.cfg.Index.Backend, a.lockBackend()), guard)
	a.closers = append(a.closers, a.services.Close)

	factory := ai.NewFactory(res.RequestsPerSecond)

	embedding, err := factory.CreateEmbeddingService(a.cfg.Embedding.Settings())
	if err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}
	if embedding == nil {
		a.logger.Warn("embedding service not configured")
	}
	if res.VerifyModels {
		if err := a.services.ValidateAndSetEmbedding(ctx, embedding); err != nil {
			a.logger.Warn("embedding service unreachable", zap.Error(err))
		}
	} else {
		a.services.SetEmbeddingService(embedding)
	}

	llm, err := factory.CreateLLMService(a.cfg.LLM.Settings())
	if err != nil {
		return fmt.Errorf("llm service: %w", err)
	}
	if llm == nil {
		a.logger.Warn("llm service not configured")
	}
	if res.VerifyModels {
		if err := a.services.ValidateAndSetLLM(ctx, llm); err != nil {
			a.logger.Warn("llm service unreachable", zap.Error(err))
		}
	} else {
		a.services.SetLLMService(llm)
	}
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
