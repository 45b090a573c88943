package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

// DatabaseConfig 宿主实体（用户、项目）所在的关系库
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GraphConfig 关系索引（关注/粉丝/好友）
type GraphConfig struct {
	Backend      string `mapstructure:"backend" validate:"oneof=redis"`
	Prefix       string `mapstructure:"prefix"`
	Separator    string `mapstructure:"separator" validate:"required"`
	FailSilently bool   `mapstructure:"fail_silently"`
}

// TimelineConfig 时间线索引
type TimelineConfig struct {
	Backend          string `mapstructure:"backend" validate:"oneof=redis"`
	Prefix           string `mapstructure:"prefix"`
	ImportOnFollow   bool   `mapstructure:"import_on_follow"`
	RemoveOnUnfollow bool   `mapstructure:"remove_on_unfollow"`
	DispatchPageSize int    `mapstructure:"dispatch_page_size" validate:"min=1"`
}

// QueueConfig 异步任务队列
type QueueConfig struct {
	Driver       string        `mapstructure:"driver" validate:"oneof=redis kafka memory"`
	Stream       string        `mapstructure:"stream" validate:"required"`
	Group        string        `mapstructure:"group" validate:"required"`
	Workers      int           `mapstructure:"workers" validate:"min=1"`
	BatchSize    int64         `mapstructure:"batch_size" validate:"min=1"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`
	Kafka        KafkaConfig   `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// FanoutConfig 扇出写入节流
type FanoutConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"` // 每秒写入的收件人数，<=0 表示不限
	Burst     int     `mapstructure:"burst"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"min=0,max=1"`
	Insecure    bool    `mapstructure:"insecure"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// VerifyConfig 索引校验任务
type VerifyConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int64         `mapstructure:"batch_size" validate:"min=1"`
}

// CacheConfig 实体快照缓存，挡在 resolver 前面
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Load 从 config/config.yaml 与环境变量加载配置
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FOLLOWGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置，测试和基准工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置字段
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("graph.backend", "redis")
	v.SetDefault("graph.prefix", "sequere:")
	v.SetDefault("graph.separator", ":")
	v.SetDefault("graph.fail_silently", false)

	v.SetDefault("timeline.backend", "redis")
	v.SetDefault("timeline.prefix", "sequere:timeline:")
	v.SetDefault("timeline.import_on_follow", true)
	v.SetDefault("timeline.remove_on_unfollow", true)
	v.SetDefault("timeline.dispatch_page_size", 10)

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.stream", "stream:followgraph:tasks")
	v.SetDefault("queue.group", "followgraph_workers")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.block_timeout", 5*time.Second)
	v.SetDefault("queue.buffer_size", 10000)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.kafka.brokers", "localhost:9092")
	v.SetDefault("queue.kafka.topic", "followgraph.tasks")
	v.SetDefault("queue.kafka.group_id", "followgraph-worker")

	v.SetDefault("fanout.rate_limit", 0)
	v.SetDefault("fanout.burst", 100)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "followgraph")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("verify.interval", 0)
	v.SetDefault("verify.batch_size", 500)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "followgraph:entity:")
	v.SetDefault("cache.ttl", 10*time.Minute)
}
