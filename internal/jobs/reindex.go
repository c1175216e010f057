// Package jobs 后台定时任务
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/run-bigpig/bizassist/internal/knowledge"
	"github.com/run-bigpig/bizassist/internal/logger"
)

var log = logger.New("Jobs")

// reindexTimeout 单次重建索引的超时
const reindexTimeout = 10 * time.Minute

var ErrInvalidInterval = errors.New("reindex interval must be positive")

// IngestFunc 重新导入知识库
type IngestFunc func(ctx context.Context) (knowledge.IngestStats, error)

// Reindexer 定时重建知识库索引，上一次未完成时跳过本次
type Reindexer struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	ingest    IngestFunc
	runs      atomic.Int64
	failures  atomic.Int64
}

// NewReindexer 创建定时任务，需调用 Start 启动
func NewReindexer(interval time.Duration, ingest IngestFunc) (*Reindexer, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r := &Reindexer{scheduler: scheduler, ingest: ingest}

	r.job, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.run),
		gocron.WithName("knowledge-reindex"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("register reindex job: %w", err)
	}
	return r, nil
}

func (r *Reindexer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
	defer cancel()

	r.runs.Add(1)
	stats, err := r.ingest(ctx)
	if err != nil {
		r.failures.Add(1)
		log.Error("knowledge reindex failed: %v", err)
		return
	}
	log.Info("knowledge reindexed: %d documents, %d chunks", stats.Documents, stats.Chunks)
}

// Start 启动调度
func (r *Reindexer) Start() {
	r.scheduler.Start()
	log.Info("knowledge reindex scheduled")
}

// RunNow 立即触发一次
func (r *Reindexer) RunNow() error {
	return r.job.RunNow()
}

// Runs 已执行次数和失败次数
func (r *Reindexer) Runs() (total, failed int64) {
	return r.runs.Load(), r.failures.Load()
}

// Stop 停止调度并等待运行中的任务
func (r *Reindexer) Stop() error {
	return r.scheduler.Shutdown()
}
