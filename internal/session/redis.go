package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/run-bigpig/bizassist/internal/models"
)

const (
	keyPrefix  = "bizassist:conversation:"
	lockPrefix = "bizassist:lock:"
)

// 会话锁的过期时间需覆盖最长的一轮对话
const (
	lockTTL   = 5 * time.Minute
	lockRetry = 50 * time.Millisecond
)

// 令牌匹配才删除，避免释放他人已重新获得的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore 会话以 JSON 存在 Redis，多实例通过 Lock 串行处理同一会话
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisStore 连接 Redis 并检查连通性
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	log.Info("redis session store connected to %s", opts.Addr)
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient 使用已有客户端
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, lockTTL: lockTTL}
}

func redisKey(id string) string {
	return keyPrefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (models.ConversationState, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ConversationState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("%w: get %s: %v", ErrSessionUnavailable, id, err)
	}
	return decodeState(data)
}

func (r *RedisStore) Save(ctx context.Context, state models.ConversationState) error {
	if state.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrSessionUnavailable)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ID, err)
	}
	if err := r.client.Set(ctx, redisKey(state.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrSessionUnavailable, state.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrSessionUnavailable, id, err)
	}
	return nil
}

// Lock 以 SET NX PX 获取跨实例会话锁，被占用时轮询直到 ctx 结束
func (r *RedisStore) Lock(ctx context.Context, id string) (func(), error) {
	key := lockPrefix + id
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrSessionUnavailable, id, err)
		}
		if ok {
			return func() { r.unlock(key, token) }, nil
		}
		timer := time.NewTimer(lockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrBusy, id, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *RedisStore) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := unlockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		log.Warn("release %s: %v", key, err)
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeState(data []byte) (models.ConversationState, error) {
	var st models.ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.ConversationState{}, fmt.Errorf("decode conversation: %w", err)
	}
	return st, nil
}
