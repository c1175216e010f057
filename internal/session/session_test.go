package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/run-bigpig/bizassist/internal/models"
)

// echoHandler 回显用户消息，记录同一会话的并发度
type echoHandler struct {
	delay   time.Duration
	running atomic.Int32
	maxSeen atomic.Int32
}

func (h *echoHandler) Greet(st models.ConversationState) (models.Message, models.ConversationState) {
	msg := models.NewMessage(models.RoleAssistant, "hello", time.Now())
	st.Append(msg)
	return msg, st
}

func (h *echoHandler) HandleTurn(_ context.Context, st models.ConversationState, text string) (models.Message, models.ConversationState) {
	n := h.running.Add(1)
	defer h.running.Add(-1)
	for {
		seen := h.maxSeen.Load()
		if n <= seen || h.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(h.delay)
	st = st.Clone()
	st.Append(models.NewMessage(models.RoleUser, text, time.Now()))
	msg := models.NewMessage(models.RoleAssistant, "echo: "+text, time.Now())
	st.Append(msg)
	return msg, st
}

// TestMemoryStore 测试内存存储
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	st := models.NewConversation("c1", time.Now())
	st.Meeting.Attendees = []string{"a@x.io"}
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	got.Meeting.Attendees[0] = "changed"
	again, _ := s.Get(ctx, "c1")
	if again.Meeting.Attendees[0] != "a@x.io" {
		t.Error("读取结果不应与存储共享内存")
	}
	if s.Len() != 1 {
		t.Errorf("期望 1 个会话, got %d", s.Len())
	}

	_ = s.Delete(ctx, "c1")
	if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("删除后应不存在, got %v", err)
	}
	if err := s.Save(ctx, models.ConversationState{}); !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("缺少 ID 应报错, got %v", err)
	}
}

// TestFileStore 测试文件存储
func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st := models.NewConversation("", time.Now())
	st.Lead.Email = "jane@acme.io"
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	got, err := s.Get(ctx, st.ID)
	if err != nil || got.Lead.Email != "jane@acme.io" {
		t.Errorf("got %+v %v", got, err)
	}

	if _, err := s.Get(ctx, "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("非法 ID 应视为不存在, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("删除不存在的会话不应报错: %v", err)
	}

	t.Run("过期", func(t *testing.T) {
		short, _ := NewFileStore(t.TempDir(), time.Millisecond)
		_ = short.Save(ctx, st)
		time.Sleep(5 * time.Millisecond)
		if _, err := short.Get(ctx, st.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("过期会话应不存在, got %v", err)
		}
	})
}

// TestRedisStore 需要 BIZASSIST_TEST_REDIS_URL
func TestRedisStore(t *testing.T) {
	url := os.Getenv("BIZASSIST_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BIZASSIST_TEST_REDIS_URL 未设置")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, time.Minute)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer s.Close()

	st := models.NewConversation("", time.Now())
	st.Phase = models.PhaseCollectingLeadInfo
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	defer s.Delete(ctx, st.ID)
	got, err := s.Get(ctx, st.ID)
	if err != nil || got.Phase != models.PhaseCollectingLeadInfo {
		t.Errorf("got %+v %v", got, err)
	}

	t.Run("会话锁", func(t *testing.T) {
		unlock, err := s.Lock(ctx, st.ID)
		if err != nil {
			t.Fatalf("加锁失败: %v", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
		defer cancel()
		if _, err := s.Lock(waitCtx, st.ID); !errors.Is(err, ErrBusy) {
			t.Errorf("锁被占用时应返回 ErrBusy, got %v", err)
		}
		unlock()
		again, err := s.Lock(ctx, st.ID)
		if err != nil {
			t.Fatalf("释放后应能再次加锁: %v", err)
		}
		again()
	})
}

// TestRedisStoreBadURL 测试非法地址
func TestRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url", time.Minute); err == nil {
		t.Error("期望解析错误")
	}
}

// TestManagerSerializesTurns 测试同一会话串行执行
func TestManagerSerializesTurns(t *testing.T) {
	ctx := context.Background()
	h := &echoHandler{delay: 10 * time.Millisecond}
	m := NewManager(NewMemoryStore(time.Hour), h)

	greet, st, err := m.Start(ctx, "")
	if err != nil || greet.Content != "hello" {
		t.Fatalf("创建失败: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.Send(ctx, st.ID, "hi"); err != nil {
				t.Errorf("发送失败: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.maxSeen.Load() != 1 {
		t.Errorf("同一会话不应并发执行, max=%d", h.maxSeen.Load())
	}
	final, _ := m.Get(ctx, st.ID)
	if len(final.Messages) != 11 {
		t.Errorf("每轮都应保存, 期望 11 条消息, got %d", len(final.Messages))
	}
	if m.locks.active() != 0 {
		t.Errorf("锁应全部释放, got %d", m.locks.active())
	}
}

// TestManagerErrors 测试不存在、等待取消和重复创建
func TestManagerErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour), &echoHandler{delay: 50 * time.Millisecond})

	if _, _, err := m.Send(ctx, "nope", "hi"); !errors.Is(err, ErrNotFound) {
		t.Errorf("期望 ErrNotFound, got %v", err)
	}

	_, st, _ := m.Start(ctx, "fixed-id")
	if _, _, err := m.Start(ctx, "fixed-id"); !errors.Is(err, ErrExists) {
		t.Error("重复 ID 应报错")
	}
	if _, _, err := m.Start(ctx, "bad id!"); !errors.Is(err, ErrInvalidID) {
		t.Error("非法 ID 应报错")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = m.Send(ctx, st.ID, "slow")
	}()
	time.Sleep(10 * time.Millisecond)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if _, _, err := m.Send(waitCtx, st.ID, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("等待超时应返回 ErrBusy, got %v", err)
	}
	<-done

	if err := m.Delete(ctx, st.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("重复删除应返回 ErrNotFound, got %v", err)
	}
}

// sharedLocker 模拟多个实例共享的会话锁
type sharedLocker struct {
	*MemoryStore
	ch    chan struct{}
	locks atomic.Int32
}

func (s *sharedLocker) Lock(ctx context.Context, _ string) (func(), error) {
	select {
	case s.ch <- struct{}{}:
		s.locks.Add(1)
		return func() { <-s.ch }, nil
	case <-ctx.Done():
		return nil, ErrBusy
	}
}

// TestManagerSharedLock 测试两个实例共用存储时同一会话仍串行执行
func TestManagerSharedLock(t *testing.T) {
	ctx := context.Background()
	store := &sharedLocker{MemoryStore: NewMemoryStore(time.Hour), ch: make(chan struct{}, 1)}
	h := &echoHandler{delay: 10 * time.Millisecond}
	a, b := NewManager(store, h), NewManager(store, h)

	_, st, err := a.Start(ctx, "shared-1")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		m := a
		if i%2 == 1 {
			m = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.Send(ctx, st.ID, "hi"); err != nil {
				t.Errorf("发送失败: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.maxSeen.Load() != 1 {
		t.Errorf("跨实例不应并发执行, max=%d", h.maxSeen.Load())
	}
	if store.locks.Load() != 7 || len(store.ch) != 0 {
		t.Errorf("共享锁 %d 次, 未释放 %d", store.locks.Load(), len(store.ch))
	}
	if a.locks.active() != 0 || b.locks.active() != 0 {
		t.Error("进程内锁应全部释放")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	store.ch <- struct{}{}
	if _, _, err := b.Send(waitCtx, st.ID, "blocked"); !errors.Is(err, ErrBusy) {
		t.Errorf("共享锁被占用时应返回 ErrBusy, got %v", err)
	}
	<-store.ch
	if b.locks.active() != 0 {
		t.Error("获取共享锁失败后应释放进程内锁")
	}
}

type failingStore struct {
	*MemoryStore
	failSave bool
}

func (f *failingStore) Save(ctx context.Context, st models.ConversationState) error {
	if f.failSave {
		return ErrSessionUnavailable
	}
	return f.MemoryStore.Save(ctx, st)
}

// TestManagerSaveFailure 保存失败仍返回回复
func TestManagerSaveFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore(time.Hour)}
	m := NewManager(store, &echoHandler{})
	_, st, _ := m.Start(ctx, "")

	store.failSave = true
	reply, _, err := m.Send(ctx, st.ID, "hi")
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("期望 ErrSessionUnavailable, got %v", err)
	}
	if reply.Content != "echo: hi" {
		t.Errorf("应仍返回回复, got %q", reply.Content)
	}
}
