package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/redis/go-redis/v9"
)

// ListClient is the part of a redis client the list sink needs.
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisSink keeps the newest entries in a capped redis list.
type RedisSink struct {
	name    string
	client  ListClient
	listKey string
	listMax int
	opener  body.Opener
	limit   int
}

type redisSettings struct {
	Key string `mapstructure:"key"`
	Max int    `mapstructure:"max"`
}

func NewRedisSink(name string, client ListClient, listKey string, listMax int, opener body.Opener, limit int) *RedisSink {
	if listKey == "" {
		listKey = "access_logs"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisSink{
		name:    name,
		client:  client,
		listKey: listKey,
		listMax: listMax,
		opener:  opener,
		limit:   limit,
	}
}

func (s *RedisSink) LogAccess(ctx context.Context, rec *model.LogRecord) error {
	payload, err := RenderJSON(ctx, rec, s.opener, s.limit)
	if err != nil {
		return apperrors.New(apperrors.ErrSink, "failed to encode entry", err)
	}
	if err := s.client.LPush(ctx, s.listKey, string(payload)).Err(); err != nil {
		return apperrors.New(apperrors.ErrSink, "redis LPUSH failed", err)
	}
	// trimming is best effort, the entry is already stored
	_ = s.client.LTrim(ctx, s.listKey, 0, int64(s.listMax-1)).Err()
	return nil
}

func (s *RedisSink) Describe() string {
	return "redis:" + s.name
}

// OpenRedis connects to redis and verifies the connection with a ping.
func OpenRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, apperrors.Config("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
