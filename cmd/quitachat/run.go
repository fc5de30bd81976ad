package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/handler"
	"github.com/xxxsen/quitachat/internal/job"
	"github.com/xxxsen/quitachat/internal/middleware"
	"github.com/xxxsen/quitachat/internal/repo"
	"github.com/xxxsen/quitachat/internal/retrieval"
	"github.com/xxxsen/quitachat/internal/schedule"
	"github.com/xxxsen/quitachat/internal/service"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model),
		zap.String("embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model),
		zap.Int("rerankers", len(cfg.Reranker.Providers)),
	)

	engine, err := a.engine(ctx)
	if err != nil {
		if errors.Is(err, retrieval.ErrIndexMissing) {
			return retrieval.ErrIndexMissing
		}
		return fmt.Errorf("init retrieval: %w", err)
	}
	chat, err := a.chatService(engine)
	if err != nil {
		return err
	}
	feedback := service.NewFeedbackService(repo.NewFeedbackRepo(a.db))
	validation := service.NewValidationService(engine, repo.NewValidationRepo(a.db))

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(repo.NewEmbeddingCacheRepo(a.db), cfg.Jobs.EmbeddingCacheMaxAgeDays), cfg.Jobs.EmbeddingCacheCleanup); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}
	if err := scheduler.AddJob(job.NewSyntheticProbeJob(chat, cfg.Jobs.SyntheticProbe.Questions), cfg.Jobs.SyntheticProbe.Spec); err != nil {
		return fmt.Errorf("schedule synthetic probe: %w", err)
	}
	if cfg.Jobs.IngestSync != "" {
		ingest, _, err := a.ingestService()
		if err != nil {
			return err
		}
		if err := scheduler.AddJob(job.NewIngestSyncJob(ingest), cfg.Jobs.IngestSync); err != nil {
			return fmt.Errorf("schedule ingest sync: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Chat:          handler.NewChatHandler(chat),
		Feedback:      handler.NewFeedbackHandler(feedback),
		Retrieval:     handler.NewRetrievalHandler(engine),
		Validation:    handler.NewValidationHandler(validation),
		ChatRateLimit: time.Duration(cfg.Chat.RateLimitMs) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	web, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := web.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}
