// cmd/migrate — 独立执行数据库迁移 (部署脚本用, 不启动服务)。
package main

import (
	"context"
	"os"

	"github.com/deepwiki/sentra-console/internal/config"
	"github.com/deepwiki/sentra-console/internal/database"
	"github.com/deepwiki/sentra-console/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	logger.SetLevel(cfg.LogLevel)

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
	logger.Info("migrations applied")
}
