package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/run-bigpig/bizassist/internal/models"
)

// LeadSheet 工作表名称
const LeadSheet = "Leads"

// sheetHeaders 列顺序，导入导出共用
var sheetHeaders = []string{
	"ID", "Name", "Email", "Company", "Interest", "Lead Score", "Status", "Qualification Notes",
	"Meeting ID", "Meeting Time", "Meeting Link", "Source", "Created At", "Updated At",
}

// SheetStore 以 xlsx 工作簿保存线索，每次写入整体落盘
type SheetStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

// OpenSheet 打开或创建工作簿
func OpenSheet(path string) (*SheetStore, error) {
	s := &SheetStore{path: path, mem: NewMemoryStore()}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, unavailable("create data dir", err)
		}
		return s, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, unavailable("open workbook", err)
	}
	defer f.Close()
	rows, err := f.GetRows(LeadSheet)
	if err != nil {
		return nil, unavailable("read sheet", err)
	}
	records := make([]models.LeadRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if rec, ok := rowToLead(row); ok {
			records = append(records, rec)
		}
	}
	s.mem.load(records)
	log.Info("loaded %d leads from %s", len(records), path)
	return s, nil
}

// Upsert 写入并保存工作簿，保存失败时回滚内存状态
func (s *SheetStore) Upsert(ctx context.Context, rec *models.LeadRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.mem.snapshot()
	id, err := s.mem.Upsert(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.save(); err != nil {
		restored := NewMemoryStore()
		restored.load(before)
		s.mem = restored
		return "", unavailable("save workbook", err)
	}
	return id, nil
}

// GetByEmail 按 email 查询
func (s *SheetStore) GetByEmail(ctx context.Context, email string) (*models.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.GetByEmail(ctx, email)
}

// List 查询线索
func (s *SheetStore) List(ctx context.Context, opts ListOptions) ([]models.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.List(ctx, opts)
}

// Close 无需释放资源，工作簿在每次写入时已保存
func (s *SheetStore) Close() error {
	return nil
}

func (s *SheetStore) save() error {
	f, err := buildWorkbook(s.mem.snapshot())
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(s.path)
}

// ExportXLSX 将线索导出为 xlsx
func ExportXLSX(ctx context.Context, store Store, w io.Writer) (int, error) {
	leads, err := store.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	f, err := buildWorkbook(leads)
	if err != nil {
		return 0, fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(leads), nil
}

// buildWorkbook 生成带表头的工作簿
func buildWorkbook(leads []models.LeadRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", LeadSheet); err != nil {
		f.Close()
		return nil, err
	}
	header := make([]any, len(sheetHeaders))
	for i, h := range sheetHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(LeadSheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(LeadSheet, 1, 1, style)
	}
	for i, l := range leads {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := leadToRow(l)
		if err := f.SetSheetRow(LeadSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func leadToRow(l models.LeadRecord) []any {
	return []any{
		l.ID, l.Name, l.Email, l.Company, l.Interest, l.Score, string(l.Status), l.QualificationNotes,
		l.MeetingID, formatTime(l.MeetingTime), l.MeetingLink, l.Source,
		l.CreatedAt.UTC().Format(time.RFC3339Nano), l.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func rowToLead(row []string) (models.LeadRecord, bool) {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	if cell(2) == "" {
		return models.LeadRecord{}, false
	}
	score, _ := strconv.Atoi(cell(5))
	rec := models.LeadRecord{
		ID:                 cell(0),
		Name:               cell(1),
		Email:              NormalizeEmail(cell(2)),
		Company:            cell(3),
		Interest:           cell(4),
		Score:              score,
		Status:             models.LeadStatus(cell(6)),
		QualificationNotes: cell(7),
		MeetingID:          cell(8),
		MeetingTime:        parseTime(cell(9)),
		MeetingLink:        cell(10),
		Source:             cell(11),
	}
	if t := parseTime(cell(12)); t != nil {
		rec.CreatedAt = *t
	}
	if t := parseTime(cell(13)); t != nil {
		rec.UpdatedAt = *t
	}
	return rec, true
}
