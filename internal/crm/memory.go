package crm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/run-bigpig/bizassist/internal/models"
)

// MemoryStore 进程内线索存储
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.LeadRecord
	order   []string
	now     func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.LeadRecord),
		now:     time.Now,
	}
}

// Upsert 写入线索
func (m *MemoryStore) Upsert(ctx context.Context, rec *models.LeadRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("upsert", err)
	}
	in, err := prepare(rec)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(in)
}

func (m *MemoryStore) upsertLocked(in models.LeadRecord) (string, error) {
	now := m.now()
	existing, found := m.findLocked(in)
	if found {
		if owner, ok := m.byEmailLocked(in.Email); ok && owner.ID != existing.ID {
			return "", ErrDuplicateEmail
		}
		updated := merge(existing, in, now)
		m.records[updated.ID] = updated
		log.Debug("lead %s updated", updated.ID)
		return updated.ID, nil
	}

	in.ID = uuid.NewString()
	in.CreatedAt = now
	in.UpdatedAt = now
	m.records[in.ID] = in
	m.order = append(m.order, in.ID)
	log.Debug("lead %s created", in.ID)
	return in.ID, nil
}

// findLocked 先按 meeting_id 再按 email 查找
func (m *MemoryStore) findLocked(in models.LeadRecord) (models.LeadRecord, bool) {
	if in.MeetingID != "" {
		for _, r := range m.records {
			if r.MeetingID == in.MeetingID {
				return r, true
			}
		}
	}
	return m.byEmailLocked(in.Email)
}

func (m *MemoryStore) byEmailLocked(email string) (models.LeadRecord, bool) {
	for _, r := range m.records {
		if r.Email == email {
			return r, true
		}
	}
	return models.LeadRecord{}, false
}

// GetByEmail 按 email 查询
func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*models.LeadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byEmailLocked(NormalizeEmail(email))
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// List 查询线索
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]models.LeadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LeadRecord
	for _, id := range m.order {
		if r := m.records[id]; opts.matches(r) {
			out = append(out, r)
		}
	}
	sortLeads(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// load 批量载入已有记录
func (m *MemoryStore) load(records []models.LeadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = r
	}
}

// snapshot 按写入顺序导出全部记录
func (m *MemoryStore) snapshot() []models.LeadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LeadRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

// Close 无资源需要释放
func (m *MemoryStore) Close() error {
	return nil
}
