// Package crm 线索存储：按 meeting_id 或 email 幂等写入
package crm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
)

var log = logger.New("CRM")

var (
	ErrStoreUnavailable = errors.New("lead store unavailable")
	ErrNotFound         = errors.New("lead not found")
	ErrInvalidLead      = errors.New("invalid lead record")
	ErrDuplicateEmail   = errors.New("email already belongs to another lead")
)

// ListOptions 查询条件
type ListOptions struct {
	Status   models.LeadStatus
	MinScore int
	Limit    int
}

// Store 线索存储
type Store interface {
	// Upsert 有 meeting_id 且已存在时更新该行，否则按 email 更新，都不存在时插入
	Upsert(ctx context.Context, rec *models.LeadRecord) (string, error)
	GetByEmail(ctx context.Context, email string) (*models.LeadRecord, error)
	List(ctx context.Context, opts ListOptions) ([]models.LeadRecord, error)
	Close() error
}

// NormalizeEmail 统一 email 格式
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// prepare 校验并规整待写入记录
func prepare(rec *models.LeadRecord) (models.LeadRecord, error) {
	if rec == nil {
		return models.LeadRecord{}, fmt.Errorf("%w: nil record", ErrInvalidLead)
	}
	out := *rec
	out.Email = NormalizeEmail(out.Email)
	out.Name = strings.TrimSpace(out.Name)
	out.MeetingID = strings.TrimSpace(out.MeetingID)
	if out.Email == "" {
		return models.LeadRecord{}, fmt.Errorf("%w: email is required", ErrInvalidLead)
	}
	if out.Score < models.MinLeadScore || out.Score > models.MaxLeadScore {
		return models.LeadRecord{}, fmt.Errorf("%w: score %d out of range", ErrInvalidLead, out.Score)
	}
	if out.Status == "" {
		out.Status = models.StatusForScore(out.Score)
	}
	return out, nil
}

// merge 用新记录更新已有记录，空字段保留原值，评分总是覆盖
func merge(existing, incoming models.LeadRecord, now time.Time) models.LeadRecord {
	out := existing
	out.Email = incoming.Email
	out.Score = incoming.Score
	out.Status = incoming.Status
	setIf(&out.Name, incoming.Name)
	setIf(&out.Company, incoming.Company)
	setIf(&out.Interest, incoming.Interest)
	setIf(&out.QualificationNotes, incoming.QualificationNotes)
	setIf(&out.MeetingID, incoming.MeetingID)
	setIf(&out.MeetingLink, incoming.MeetingLink)
	setIf(&out.Source, incoming.Source)
	if incoming.MeetingTime != nil {
		t := *incoming.MeetingTime
		out.MeetingTime = &t
	}
	out.UpdatedAt = now
	return out
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// matches 判断记录是否满足查询条件
func (o ListOptions) matches(r models.LeadRecord) bool {
	if o.Status != "" && r.Status != o.Status {
		return false
	}
	return r.Score >= o.MinScore
}

// sortLeads 按分数降序，再按创建时间降序
func sortLeads(leads []models.LeadRecord) {
	sort.SliceStable(leads, func(i, j int) bool {
		if leads[i].Score != leads[j].Score {
			return leads[i].Score > leads[j].Score
		}
		return leads[i].CreatedAt.After(leads[j].CreatedAt)
	})
}

// unavailable 包装后端错误
func unavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Stats 统计所有线索
func Stats(ctx context.Context, s Store) (models.LeadStats, error) {
	leads, err := s.List(ctx, ListOptions{})
	if err != nil {
		return models.LeadStats{}, err
	}
	return models.ComputeLeadStats(leads), nil
}
