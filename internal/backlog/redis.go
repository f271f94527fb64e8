package backlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/forum/pkg/room"
)

// NewRedisClient 按配置创建 Redis 客户端并检测连通性，消息总线复用同一配置
func NewRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return client, nil
}

// redisStore 基于列表的多节点共享存储：RPUSH + LTRIM + EXPIRE
type redisStore struct {
	client    redis.UniversalClient
	size      int
	ttl       time.Duration
	keyPrefix string
	owned     bool
}

func newRedisStore(cfg *Config) (*redisStore, error) {
	client, err := NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	return &redisStore{
		client:    client,
		size:      cfg.Size,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		owned:     true,
	}, nil
}

// NewRedisStore 使用已有客户端创建存储，Close 不关闭该客户端
func NewRedisStore(client redis.UniversalClient, cfg *Config) Store {
	return &redisStore{
		client:    client,
		size:      cfg.Size,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
	}
}

func (r *redisStore) key(roomName string) string {
	return r.keyPrefix + "backlog:" + roomName
}

func (r *redisStore) Append(ctx context.Context, roomName string, msg room.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	key := r.key(roomName)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-r.size), -1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return nil
}

func (r *redisStore) Recent(ctx context.Context, roomName string) ([]room.ChatMessage, error) {
	items, err := r.client.LRange(ctx, r.key(roomName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	out := make([]room.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg room.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *redisStore) Clear(ctx context.Context, roomName string) error {
	if err := r.client.Del(ctx, r.key(roomName)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

func (r *redisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
