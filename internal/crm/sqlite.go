package crm

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/run-bigpig/bizassist/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	interest TEXT NOT NULL DEFAULT '',
	lead_score INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Cold',
	qualification_notes TEXT NOT NULL DEFAULT '',
	meeting_id TEXT NOT NULL DEFAULT '',
	meeting_time TEXT NOT NULL DEFAULT '',
	meeting_link TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_meeting_id ON leads(meeting_id) WHERE meeting_id <> '';
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score DESC);
`

const leadColumns = `id, name, email, company, interest, lead_score, status, qualification_notes,
	meeting_id, meeting_time, meeting_link, source, created_at, updated_at`

// SQLiteStore 基于 SQLite 的线索存储
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite 打开数据库并建表
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, unavailable("create data dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// 单连接串行写，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}
	log.Info("sqlite lead store ready at %s", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Upsert 在事务中查找并写入
func (s *SQLiteStore) Upsert(ctx context.Context, rec *models.LeadRecord) (string, error) {
	in, err := prepare(rec)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", unavailable("begin", err)
	}
	defer tx.Rollback()

	var existing *models.LeadRecord
	if in.MeetingID != "" {
		existing, err = queryOne(ctx, tx, "meeting_id = ?", in.MeetingID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	if existing == nil {
		existing, err = queryOne(ctx, tx, "email = ?", in.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	now := s.now().UTC()
	var id string
	if existing != nil {
		updated := merge(*existing, in, now)
		id = updated.ID
		_, err = tx.ExecContext(ctx, `UPDATE leads SET name = ?, email = ?, company = ?, interest = ?,
			lead_score = ?, status = ?, qualification_notes = ?, meeting_id = ?, meeting_time = ?,
			meeting_link = ?, source = ?, updated_at = ? WHERE id = ?`,
			updated.Name, updated.Email, updated.Company, updated.Interest, updated.Score,
			string(updated.Status), updated.QualificationNotes, updated.MeetingID, formatTime(updated.MeetingTime),
			updated.MeetingLink, updated.Source, updated.UpdatedAt.Format(time.RFC3339Nano), updated.ID)
	} else {
		id = uuid.NewString()
		ts := now.Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx, `INSERT INTO leads (`+leadColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.Name, in.Email, in.Company, in.Interest, in.Score, string(in.Status),
			in.QualificationNotes, in.MeetingID, formatTime(in.MeetingTime), in.MeetingLink, in.Source, ts, ts)
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrDuplicateEmail
		}
		return "", unavailable("write lead", err)
	}
	if err := tx.Commit(); err != nil {
		return "", unavailable("commit", err)
	}
	return id, nil
}

// GetByEmail 按 email 查询
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*models.LeadRecord, error) {
	return queryOne(ctx, s.db, "email = ?", NormalizeEmail(email))
}

// List 查询线索，按分数和创建时间降序
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]models.LeadRecord, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_score >= ?`
	args := []any{opts.MinScore}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY lead_score DESC, created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []models.LeadRecord
	for rows.Next() {
		r, err := scanLead(rows)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func queryOne(ctx context.Context, q queryer, where string, arg any) (*models.LeadRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+where+` LIMIT 1`, arg)
	r, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("query", err)
	}
	return r, nil
}

func scanLead(s scanner) (*models.LeadRecord, error) {
	var r models.LeadRecord
	var status, meetingTime, createdAt, updatedAt string
	err := s.Scan(&r.ID, &r.Name, &r.Email, &r.Company, &r.Interest, &r.Score, &status,
		&r.QualificationNotes, &r.MeetingID, &meetingTime, &r.MeetingLink, &r.Source, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.LeadStatus(status)
	r.MeetingTime = parseTime(meetingTime)
	if t := parseTime(createdAt); t != nil {
		r.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		r.UpdatedAt = *t
	}
	return &r, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

