package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/run-bigpig/bizassist/internal/knowledge"
)

// TestReindexer 测试定时重建
func TestReindexer(t *testing.T) {
	var calls atomic.Int32
	r, err := NewReindexer(20*time.Millisecond, func(context.Context) (knowledge.IngestStats, error) {
		if calls.Add(1) == 1 {
			return knowledge.IngestStats{}, errors.New("disk unavailable")
		}
		return knowledge.IngestStats{Documents: 1, Chunks: 2}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("任务未按周期执行, calls=%d", calls.Load())
	}
	total, failed := r.Runs()
	if total < 2 || failed != 1 {
		t.Errorf("runs=%d failed=%d", total, failed)
	}
}

// TestReindexerInterval 测试非法周期
func TestReindexerInterval(t *testing.T) {
	if _, err := NewReindexer(0, nil); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("期望 ErrInvalidInterval, got %v", err)
	}
}
