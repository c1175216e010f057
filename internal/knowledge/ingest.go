package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/run-bigpig/bizassist/internal/models"
)

// Sink 接收切分后的片段
type Sink interface {
	Add(ctx context.Context, chunks []models.Chunk) error
}

// resettable 支持整体重建的索引
type resettable interface {
	Reset()
}

// IngestStats 导入统计
type IngestStats struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Duration  time.Duration `json:"duration"`
}

// IngestDir 加载目录并写入索引；索引支持 Reset 时先清空
func IngestDir(ctx context.Context, dir string, chunker Chunker, sink Sink) (IngestStats, error) {
	start := time.Now()
	docs, err := LoadDir(dir)
	if err != nil {
		return IngestStats{}, err
	}
	return ingest(ctx, docs, chunker, sink, start)
}

// IngestFS 从文件系统导入，用于内置知识库
func IngestFS(ctx context.Context, fsys fs.FS, chunker Chunker, sink Sink) (IngestStats, error) {
	start := time.Now()
	docs, err := LoadFS(fsys)
	if err != nil {
		return IngestStats{}, err
	}
	return ingest(ctx, docs, chunker, sink, start)
}

func ingest(ctx context.Context, docs []*Document, chunker Chunker, sink Sink, start time.Time) (IngestStats, error) {
	var chunks []models.Chunk
	for _, d := range docs {
		chunks = append(chunks, chunker.Split(d)...)
	}

	if r, ok := sink.(resettable); ok {
		r.Reset()
	}
	if err := sink.Add(ctx, chunks); err != nil {
		return IngestStats{}, fmt.Errorf("index %d chunks: %w", len(chunks), err)
	}

	stats := IngestStats{Documents: len(docs), Chunks: len(chunks), Duration: time.Since(start)}
	log.Info("indexed %d chunks from %d documents in %v", stats.Chunks, stats.Documents, stats.Duration)
	return stats, nil
}
