package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/run-bigpig/bizassist/internal/models"
)

// Handler 对话处理器
type Handler interface {
	Greet(state models.ConversationState) (models.Message, models.ConversationState)
	HandleTurn(ctx context.Context, state models.ConversationState, userMessage string) (models.Message, models.ConversationState)
}

var ErrBusy = errors.New("conversation is busy")

// Locker 由跨实例共享的存储实现，Manager 在进程内锁之外再持有该锁
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// Manager 加载状态、执行一轮对话并保存，同一会话的轮次串行执行
type Manager struct {
	store   Store
	handler Handler
	locks   keyedMutex
	now     func() time.Time
}

// NewManager 创建会话管理器
func NewManager(store Store, handler Handler) *Manager {
	return &Manager{
		store:   store,
		handler: handler,
		locks:   keyedMutex{locks: make(map[string]*keyLock)},
		now:     time.Now,
	}
}

// Start 创建会话并返回欢迎语，id 为空时自动生成
func (m *Manager) Start(ctx context.Context, id string) (models.Message, models.ConversationState, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		if !safeID.MatchString(id) {
			return models.Message{}, models.ConversationState{}, fmt.Errorf("%w %q", ErrInvalidID, id)
		}
		unlock, err := m.acquire(ctx, id)
		if err != nil {
			return models.Message{}, models.ConversationState{}, err
		}
		defer unlock()
		if _, err := m.store.Get(ctx, id); err == nil {
			return models.Message{}, models.ConversationState{}, fmt.Errorf("%w: %s", ErrExists, id)
		}
	}

	state := models.NewConversation(id, m.now())
	reply, state := m.handler.Greet(state)
	if err := m.store.Save(ctx, state); err != nil {
		return reply, state, err
	}
	log.Info("conversation %s started", state.ID)
	return reply, state, nil
}

// Send 处理一条用户消息；前一轮未结束时等待
// 保存失败时仍返回回复，error 包装 ErrSessionUnavailable
func (m *Manager) Send(ctx context.Context, id, text string) (models.Message, models.ConversationState, error) {
	unlock, err := m.acquire(ctx, id)
	if err != nil {
		return models.Message{}, models.ConversationState{}, err
	}
	defer unlock()

	state, err := m.store.Get(ctx, id)
	if err != nil {
		return models.Message{}, models.ConversationState{}, err
	}
	reply, next := m.handler.HandleTurn(ctx, state, text)
	if err := m.store.Save(context.WithoutCancel(ctx), next); err != nil {
		log.Error("conversation %s not persisted after turn: %v", id, err)
		return reply, next, err
	}
	return reply, next, nil
}

// Get 读取会话状态
func (m *Manager) Get(ctx context.Context, id string) (models.ConversationState, error) {
	return m.store.Get(ctx, id)
}

// Delete 等待进行中的轮次结束后删除
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock, err := m.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

// acquire 依次获取进程内锁和存储提供的共享锁
// id 可能引用请求缓冲区，作为 map 键前先复制
func (m *Manager) acquire(ctx context.Context, id string) (func(), error) {
	id = strings.Clone(id)
	if err := m.locks.lock(ctx, id); err != nil {
		return nil, err
	}
	locker, ok := m.store.(Locker)
	if !ok {
		return func() { m.locks.unlock(id) }, nil
	}
	release, err := locker.Lock(ctx, id)
	if err != nil {
		m.locks.unlock(id)
		return nil, err
	}
	return func() {
		release()
		m.locks.unlock(id)
	}, nil
}

// keyLock 容量为 1 的通道作为锁，等待时可被 ctx 取消
type keyLock struct {
	ch   chan struct{}
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyedMutex) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, l)
		return fmt.Errorf("%w: %s: %v", ErrBusy, key, ctx.Err())
	}
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	if l == nil {
		return
	}
	<-l.ch
	k.release(key, l)
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// active 当前持有或等待锁的会话数
func (k *keyedMutex) active() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
