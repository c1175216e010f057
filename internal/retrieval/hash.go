package retrieval

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultHashDims 特征哈希默认维度
const DefaultHashDims = 512

// HashEmbedder 离线特征哈希向量化，单词和相邻词对映射到固定维度
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder 创建哈希向量化器，dims<=0 使用默认维度
func NewHashEmbedder(dims int) HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return HashEmbedder{Dims: dims}
}

// Embed 向量已做 L2 归一化
func (h HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = DefaultHashDims
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashVector(Tokenize(text), dims)
	}
	return out, nil
}

func hashVector(tokens []string, dims int) []float32 {
	vec := make([]float32, dims)
	add := func(feature string, weight float32) {
		f := fnv.New64a()
		f.Write([]byte(feature))
		sum := f.Sum64()
		// 最高位作为符号位
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(dims)] += sign * weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
