package models

import (
	"fmt"
	"strings"
)

// Chunk 知识库文本片段
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title,omitempty"`
	Source     string `json:"source"`
	Page       int    `json:"page,omitempty"` // 从 1 开始，0 表示无页码
	Text       string `json:"text"`
}

// Citation 生成引用标识，无法标识来源时返回空串
func (c Chunk) Citation() string {
	name := strings.TrimSpace(c.Title)
	if name == "" {
		name = strings.TrimSpace(c.Source)
	}
	if name == "" {
		return ""
	}
	if c.Page > 0 {
		return fmt.Sprintf("%s, p. %d", name, c.Page)
	}
	return name
}

// ScoredChunk 带相似度的片段
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Passage 检索结果段落
type Passage struct {
	Text     string  `json:"text"`
	Citation string  `json:"citation"`
	Score    float64 `json:"score"`
}

// RetrievalResult 检索结果，按相似度降序
type RetrievalResult struct {
	Query    string    `json:"query"`
	Passages []Passage `json:"passages"`
}

// Empty 是否无结果
func (r RetrievalResult) Empty() bool {
	return len(r.Passages) == 0
}

// Citations 去重后的引用列表，保持顺序
func (r RetrievalResult) Citations() []string {
	seen := make(map[string]bool, len(r.Passages))
	var out []string
	for _, p := range r.Passages {
		if seen[p.Citation] {
			continue
		}
		seen[p.Citation] = true
		out = append(out, p.Citation)
	}
	return out
}
