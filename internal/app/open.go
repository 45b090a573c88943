package app

import (
	"context"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/pkg/database"
	"github.com/d60-Lab/followgraph/pkg/kv"
)

// Open 连接数据库与 Redis 并装配 App；返回的 cleanup 负责关闭全部连接
func Open(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := kv.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	a, err := New(cfg, db, rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = a.Close(context.Background())
		_ = rdb.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return a, cleanup, nil
}
