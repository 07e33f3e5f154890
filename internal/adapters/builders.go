package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/tablestore"
	"github.com/aura-hunt/backend/pkg/database"
	pkgredis "github.com/aura-hunt/backend/pkg/redis"
	"github.com/aura-hunt/backend/pkg/storage"
)

func buildBlob(ctx context.Context, cfg Config, logger *zap.Logger) (docstore.Store, error) {
	client, err := storage.NewS3(ctx, cfg.S3, logger)
	if err != nil {
		return nil, err
	}
	return docstore.NewS3(client), nil
}

func buildTable(ctx context.Context, cfg Config, logger *zap.Logger) (docstore.Store, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate tables: %w", err)
	}
	return tablestore.New(pool, true, logger), nil
}

func buildMemory(context.Context, Config, *zap.Logger) (docstore.Store, error) {
	return docstore.NewMemory(), nil
}

func buildRedis(ctx context.Context, cfg Config, logger *zap.Logger) (docstore.Store, error) {
	client, err := pkgredis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	return docstore.NewRedis(client), nil
}
