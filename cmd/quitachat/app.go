package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/config"
	"github.com/xxxsen/quitachat/internal/db"
	"github.com/xxxsen/quitachat/internal/docsource"
	"github.com/xxxsen/quitachat/internal/embedcache"
	"github.com/xxxsen/quitachat/internal/repo"
	"github.com/xxxsen/quitachat/internal/retrieval"
	"github.com/xxxsen/quitachat/internal/service"
)

// app holds what every command needs: the parsed config and an open,
// migrated database.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	chunks *repo.ChunkRepo
}

func setup(ctx context.Context, configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", configPath))

	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &app{cfg: cfg, db: sqlDB, chunks: repo.NewChunkRepo(sqlDB)}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

// documentEmbedder embeds documents at ingestion time. Results land in the
// chunk table, so no cache sits in front of it.
func (a *app) documentEmbedder() (ai.IEmbedder, error) {
	cfg := a.cfg.Embedding
	p, err := ai.NewEmbedProvider(cfg.Provider, cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	return ai.NewEmbedder(p, cfg.Model, time.Duration(cfg.TimeoutSec)*time.Second), nil
}

// queryEmbedder adds the persistent and in-process caches for repeated questions.
func (a *app) queryEmbedder() (ai.IEmbedder, error) {
	e, err := a.documentEmbedder()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg.Embedding
	if cfg.DBCache {
		e = embedcache.WrapDB(e, repo.NewEmbeddingCacheRepo(a.db))
	}
	return embedcache.WrapLRU(e, cfg.CacheSize, time.Duration(cfg.CacheTTLMinutes)*time.Minute), nil
}

func (a *app) scorer() (ai.IScorer, error) {
	entries := make([]ai.ScorerEntry, 0, len(a.cfg.Reranker.Providers))
	for _, pc := range a.cfg.Reranker.Providers {
		p, err := ai.NewScoreProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init reranker %s: %w", pc.Name, err)
		}
		entries = append(entries, ai.ScorerEntry{Name: pc.Name, Scorer: ai.NewScorer(p, pc.Model)})
	}
	return ai.NewGroupScorer(entries), nil
}

func (a *app) chatModel() (ai.IChatModel, error) {
	cfg := a.cfg.LLM
	p, err := ai.NewProvider(cfg.Provider, cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	return ai.NewChatModel(p, ai.ChatModelConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
	}), nil
}

func (a *app) engine(ctx context.Context) (*retrieval.Engine, error) {
	embedder, err := a.queryEmbedder()
	if err != nil {
		return nil, err
	}
	scorer, err := a.scorer()
	if err != nil {
		return nil, err
	}
	rc := a.cfg.Retrieval
	return retrieval.New(ctx, a.chunks, embedder, scorer, retrieval.Config{
		KRaw:          rc.KRaw,
		KFinal:        rc.KFinal,
		RerankTimeout: time.Duration(rc.RerankTimeoutSec) * time.Second,
		Fallback:      rc.RerankFallback,
	})
}

func (a *app) chatService(engine *retrieval.Engine) (*service.ChatService, error) {
	llm, err := a.chatModel()
	if err != nil {
		return nil, err
	}
	prompt, err := service.LoadPromptBuilder(a.cfg.Chat.PromptFile)
	if err != nil {
		return nil, err
	}
	var opts []service.ChatOption
	if a.cfg.Chat.SerializeSessions {
		opts = append(opts, service.WithSessionSerialization())
	}
	return service.NewChatService(engine, llm, repo.NewChatHistoryRepo(a.db), prompt, opts...), nil
}

func (a *app) ingestService() (*service.IngestService, docsource.Source, error) {
	source, err := docsource.New(a.cfg.DocumentStore)
	if err != nil {
		return nil, nil, fmt.Errorf("init document store: %w", err)
	}
	embedder, err := a.documentEmbedder()
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewIngestService(a.chunks, embedder, source, service.IngestConfig{
		BaseDir: a.cfg.DocumentStore.BaseDir,
		Workers: a.cfg.DocumentStore.Workers,
	})
	return svc, source, nil
}
