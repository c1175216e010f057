// Package session 会话状态存储与按会话串行化的轮次管理
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
)

var log = logger.New("Session")

// DefaultTTL 会话空闲过期时间
const DefaultTTL = 24 * time.Hour

var (
	ErrNotFound           = errors.New("conversation not found")
	ErrSessionUnavailable = errors.New("session store unavailable")
	ErrExists             = errors.New("conversation already exists")
	ErrInvalidID          = errors.New("invalid conversation id")
)

// Store 会话状态存储
type Store interface {
	Get(ctx context.Context, id string) (models.ConversationState, error)
	Save(ctx context.Context, state models.ConversationState) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore 进程内存储，空闲超过 TTL 自动清理
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore ttl<=0 使用默认过期时间
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/4)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.ConversationState, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return models.ConversationState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(models.ConversationState).Clone(), nil
}

// Save 每次保存刷新过期时间
func (m *MemoryStore) Save(_ context.Context, state models.ConversationState) error {
	if state.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrSessionUnavailable)
	}
	m.cache.Set(state.ID, state.Clone(), cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Len 未过期的会话数量
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
