// Package app 按配置装配各组件，供 cmd 下的进程共用
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/entitycache"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/fanout"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/repository"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/internal/verify"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Repos    *repository.Repositories
	Registry *registry.Registry
	Bus      *events.Bus
	Graph    graph.Index
	Timeline timeline.Index
	Broker   tasks.Broker
	Producer *fanout.Producer

	// UserCache 在关闭实体缓存时为 nil
	UserCache *entitycache.Resolver[model.User]
}

// New 在已连接的 DB 与 Redis 之上装配索引、队列与扇出生产者
func New(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient) (*App, error) {
	if err := db.AutoMigrate(model.Models()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	a := &App{Config: cfg, DB: db, Redis: rdb, Repos: repository.New(db), Bus: events.NewBus()}

	reg, err := a.Repos.Registry(a.cacheWrap())
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	a.Registry = reg

	if a.Broker, err = tasks.NewBroker(cfg.Queue, rdb); err != nil {
		return nil, err
	}
	a.Producer = fanout.NewProducer(a.Broker)
	fanout.Subscribe(a.Bus, a.Producer, cfg.Timeline)

	a.Graph, err = graph.New(cfg.Graph, graph.Deps{Redis: rdb, Registry: reg, Bus: a.Bus})
	if err != nil {
		return nil, err
	}
	a.Timeline, err = timeline.New(cfg.Timeline, cfg.Graph.Separator, timeline.Deps{
		Redis:      rdb,
		Graph:      a.Graph,
		Bus:        a.Bus,
		Dispatcher: a.Producer,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("components ready",
		zap.String("queue", cfg.Queue.Driver),
		zap.Strings("kinds", reg.Kinds()),
		zap.Strings("verbs", reg.Verbs()),
		zap.Bool("entity_cache", cfg.Cache.Enabled))
	return a, nil
}

func (a *App) cacheWrap() repository.Wrap {
	c := a.Config.Cache
	if !c.Enabled {
		return nil
	}
	return func(kind string, next registry.Resolver) registry.Resolver {
		switch kind {
		case model.KindUser:
			a.UserCache = entitycache.New[model.User](a.Redis, c.Prefix, kind, c.TTL, next)
			return a.UserCache
		case model.KindProject:
			return entitycache.New[model.Project](a.Redis, c.Prefix, kind, c.TTL, next)
		case model.KindPost:
			return entitycache.New[model.Post](a.Redis, c.Prefix, kind, c.TTL, next)
		default:
			return next
		}
	}
}

// Mux 注册扇出消费端的全部任务
func (a *App) Mux() *tasks.Mux {
	mux := tasks.NewMux()
	fanout.NewConsumer(a.Graph, a.Timeline, a.Config.Timeline, a.Config.Fanout).Register(mux)
	return mux
}

func (a *App) Manager(name string) *tasks.Manager {
	q := a.Config.Queue
	return tasks.NewManager(a.Broker, a.Mux().Handle, tasks.ManagerConfig{
		Workers:      q.Workers,
		BatchSize:    q.BatchSize,
		BlockTimeout: q.BlockTimeout,
		MaxAttempts:  q.MaxAttempts,
		Name:         name,
	})
}

func (a *App) Verifier() *verify.Verifier {
	sep := a.Config.Graph.Separator
	return verify.New(a.Redis,
		keys.New(a.Config.Graph.Prefix, sep),
		keys.New(a.Config.Timeline.Prefix, sep),
		a.Registry, a.Config.Verify.BatchSize)
}

// Close 释放队列连接；DB 与 Redis 由调用方关闭
func (a *App) Close(ctx context.Context) error {
	if a.Broker == nil {
		return nil
	}
	return a.Broker.Close()
}
