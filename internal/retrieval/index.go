package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/run-bigpig/bizassist/internal/models"
)

var ErrDimensionMismatch = errors.New("embedding dimensions mismatch")

// Searcher 语义检索协作者
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
}

// Index 可写入的检索索引
type Index interface {
	Searcher
	Add(ctx context.Context, chunks []models.Chunk) error
	Reset()
	Len() int
}

// Embedder 文本向量化协作者
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type vectorRecord struct {
	chunk     models.Chunk
	embedding []float32
}

// VectorIndex 内存向量索引，暴力计算余弦相似度
type VectorIndex struct {
	mu       sync.RWMutex
	embedder Embedder
	records  map[string]vectorRecord
	dims     int
}

// NewVectorIndex 创建向量索引
func NewVectorIndex(embedder Embedder) *VectorIndex {
	return &VectorIndex{
		embedder: embedder,
		records:  make(map[string]vectorRecord),
	}
}

// Add 向量化并写入片段，相同 ID 覆盖
func (v *VectorIndex) Add(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := v.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embed chunks: got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range chunks {
		if v.dims == 0 {
			v.dims = len(embeddings[i])
		}
		if len(embeddings[i]) != v.dims {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dims, len(embeddings[i]))
		}
		v.records[c.ID] = vectorRecord{chunk: c, embedding: embeddings[i]}
	}
	return nil
}

// Search 返回余弦相似度最高的 k 个片段，按相似度降序
func (v *VectorIndex) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	embeddings, err := v.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embed query: got %d embeddings", len(embeddings))
	}
	q := embeddings[0]

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dims != 0 && len(q) != v.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dims, len(q))
	}

	results := make([]models.ScoredChunk, 0, len(v.records))
	for _, r := range v.records {
		results = append(results, models.ScoredChunk{Chunk: r.chunk, Score: cosineSimilarity(q, r.embedding)})
	}
	sortScored(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reset 清空索引
func (v *VectorIndex) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = make(map[string]vectorRecord)
	v.dims = 0
}

// Len 片段数量
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// cosineSimilarity 余弦相似度，零向量返回 0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortScored 按分数降序，分数相同按 ID 保证结果稳定
func sortScored(results []models.ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
