package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

var ErrEmbeddingCountMismatch = errors.New("embedding count does not match input count")

// Embedder 基于 OpenAI 兼容接口的文本向量化
type Embedder struct {
	Client    *openai.Client
	ModelName string
	BatchSize int
}

// NewEmbedder 创建向量化客户端
func NewEmbedder(modelName string, cfg openai.ClientConfig) *Embedder {
	return &Embedder{
		Client:    openai.NewClientWithConfig(cfg),
		ModelName: modelName,
		BatchSize: 64,
	}
}

// Embed 批量向量化，返回顺序与输入一致
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batch := e.BatchSize
	if batch <= 0 {
		batch = len(texts)
	}
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		resp, err := e.Client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(e.ModelName),
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, ErrEmbeddingCountMismatch
		}
		for _, d := range resp.Data {
			if d.Index < 0 || start+d.Index >= end {
				return nil, ErrEmbeddingCountMismatch
			}
			out[start+d.Index] = d.Embedding
		}
	}
	return out, nil
}
