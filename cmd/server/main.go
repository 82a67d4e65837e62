// cmd/server — sentra 会话控制台主入口。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepwiki/sentra-console/internal/apiserver"
	"github.com/deepwiki/sentra-console/internal/chat"
	"github.com/deepwiki/sentra-console/internal/config"
	"github.com/deepwiki/sentra-console/internal/database"
	"github.com/deepwiki/sentra-console/internal/sentra"
	"github.com/deepwiki/sentra-console/internal/store"
	"github.com/deepwiki/sentra-console/pkg/logger"
	"github.com/deepwiki/sentra-console/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	logger.SetLevel(cfg.LogLevel)

	// 无 Postgres 配置时退化到内存存储 (本地开发模式)
	var convStore chat.Store
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Error("database init failed", logger.FieldError, err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Error("migration failed", logger.FieldError, err)
			os.Exit(1)
		}
		convStore = store.NewConversationStore(pool)
	} else {
		logger.Warn("no POSTGRES_CONNECTION_STRING, using in-memory store")
		convStore = chat.NewMemoryStore()
	}

	client := sentra.NewClient(cfg.SentraBaseURL,
		sentra.WithAPIKey(cfg.SentraAPIKey),
		sentra.WithAgentMode(cfg.AgentMode),
		sentra.WithTimeout(time.Duration(cfg.RequestTimeoutSec)*time.Second),
	)

	srv := apiserver.NewServer(apiserver.Deps{
		Store:        convStore,
		Client:       client,
		Files:        chat.NewFSResolver(cfg.FileRootDir, cfg.FilePreviewMaxBytes),
		Opts:         chat.Options{StreamEnabled: cfg.StreamEnabled, AgentMode: cfg.AgentMode},
		SaveDebounce: time.Duration(cfg.SaveDebounceMS) * time.Millisecond,
	})

	logger.Infow("sentra console starting",
		logger.FieldAddr, cfg.ListenAddr,
		logger.FieldURL, cfg.SentraBaseURL)

	util.SafeGo(func() {
		if err := srv.Engine().Run(cfg.ListenAddr); err != nil {
			logger.Error("server failed", logger.FieldError, err)
			os.Exit(1)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}
