package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/run-bigpig/bizassist/internal/models"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// fileEntry 文件条目
type fileEntry struct {
	State   models.ConversationState `json:"state"`
	SavedAt time.Time                `json:"saved_at"`
}

// FileStore 每个会话一个 JSON 文件，用于单机部署和 CLI 会话
type FileStore struct {
	dir string
	ttl time.Duration
	mu  sync.RWMutex
}

// NewFileStore 创建目录存储
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileStore{dir: dir, ttl: ttl}, nil
}

func (f *FileStore) path(id string) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

// Get 过期的会话视为不存在
func (f *FileStore) Get(_ context.Context, id string) (models.ConversationState, error) {
	p, err := f.path(id)
	if err != nil {
		return models.ConversationState{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return models.ConversationState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.ConversationState{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if time.Since(entry.SavedAt) > f.ttl {
		return models.ConversationState{}, fmt.Errorf("%w: %s expired", ErrNotFound, id)
	}
	return entry.State, nil
}

// Save 先写临时文件再重命名
func (f *FileStore) Save(_ context.Context, state models.ConversationState) error {
	p, err := f.path(state.ID)
	if err != nil {
		return fmt.Errorf("%w: invalid conversation id %q", ErrSessionUnavailable, state.ID)
	}
	data, err := json.Marshal(fileEntry{State: state, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	p, err := f.path(id)
	if err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
