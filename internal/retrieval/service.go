// Package retrieval 知识库检索：查询扩展、语义检索、阈值过滤和引用
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/adk"
	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

var log = logger.New("Retrieval")

// 默认检索参数
const (
	DefaultTopK          = 3
	DefaultCandidateK    = 8
	DefaultMinRelevance  = 0.4
	DefaultExpandTimeout = 10 * time.Second
	DefaultSearchTimeout = 15 * time.Second
)

var (
	ErrEmptyQuery           = errors.New("empty query")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// Options 检索参数
type Options struct {
	TopK          int
	CandidateK    int
	MinRelevance  float64
	ExpandTimeout time.Duration
	SearchTimeout time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		TopK:          DefaultTopK,
		CandidateK:    DefaultCandidateK,
		MinRelevance:  DefaultMinRelevance,
		ExpandTimeout: DefaultExpandTimeout,
		SearchTimeout: DefaultSearchTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.CandidateK < o.TopK {
		o.CandidateK = max(d.CandidateK, o.TopK)
	}
	// 未设置阈值时使用默认值
	if o.MinRelevance <= 0 || math.IsNaN(o.MinRelevance) {
		o.MinRelevance = d.MinRelevance
	}
	if o.ExpandTimeout <= 0 {
		o.ExpandTimeout = d.ExpandTimeout
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = d.SearchTimeout
	}
	return o
}

// Expander 查询扩展协作者
type Expander interface {
	Expand(ctx context.Context, query string) (string, error)
}

// Service 检索服务
type Service struct {
	searcher Searcher
	expander Expander
	opts     Options
}

// NewService 创建检索服务，expander 可为空
func NewService(searcher Searcher, expander Expander, opts Options) *Service {
	return &Service{searcher: searcher, expander: expander, opts: opts.withDefaults()}
}

// Options 返回生效的参数
func (s *Service) Options() Options {
	return s.opts
}

// Retrieve 检索与查询相关的段落
// 结果按相似度降序，均不低于阈值且带引用，数量不超过 TopK
func (s *Service) Retrieve(ctx context.Context, query string) (models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.RetrievalResult{}, ErrEmptyQuery
	}

	searchQuery := s.expand(ctx, query)

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	candidates, err := s.searcher.Search(searchCtx, searchQuery, s.opts.CandidateK)
	if err != nil {
		log.Warn("search failed for %q: %v", adk.Truncate(query, 80), err)
		return models.RetrievalResult{}, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	candidates = finiteScores(candidates)
	sortScored(candidates)
	result := models.RetrievalResult{Query: searchQuery}
	for _, c := range candidates {
		if c.Score < s.opts.MinRelevance {
			continue
		}
		citation := c.Chunk.Citation()
		text := strings.TrimSpace(c.Chunk.Text)
		if citation == "" || text == "" {
			continue
		}
		result.Passages = append(result.Passages, models.Passage{Text: text, Citation: citation, Score: c.Score})
		if len(result.Passages) == s.opts.TopK {
			break
		}
	}
	log.Debug("retrieved %d/%d passages for %q", len(result.Passages), len(candidates), adk.Truncate(query, 80))
	return result, nil
}

// finiteScores 丢弃 NaN 和无穷分数，它们无法参与排序和阈值比较
func finiteScores(in []models.ScoredChunk) []models.ScoredChunk {
	out := in[:0:0]
	for _, c := range in {
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			log.Warn("dropping chunk %s with score %v", c.Chunk.ID, c.Score)
			continue
		}
		out = append(out, c)
	}
	return out
}

// expand 扩展查询，失败或超时回退到原始查询
func (s *Service) expand(ctx context.Context, query string) string {
	if s.expander == nil {
		return query
	}
	expandCtx, cancel := context.WithTimeout(ctx, s.opts.ExpandTimeout)
	defer cancel()
	expanded, err := s.expander.Expand(expandCtx, query)
	if err != nil {
		log.Warn("query expansion failed, using raw query: %v", err)
		return query
	}
	expanded = strings.TrimSpace(expanded)
	if expanded == "" {
		return query
	}
	return expanded
}

// LLMExpander 调用 LLM 改写查询
type LLMExpander struct {
	llm     model.LLM
	company string
}

// NewLLMExpander 创建查询扩展器
func NewLLMExpander(llm model.LLM, company string) *LLMExpander {
	return &LLMExpander{llm: llm, company: company}
}

// Expand 生成包含关键词的检索查询
func (e *LLMExpander) Expand(ctx context.Context, query string) (string, error) {
	prompt := "Rewrite this question into a search query for " + e.company + "'s knowledge base.\n" +
		"Include relevant keywords and synonyms. Keep it under 50 words.\n" +
		"Output only the search query.\n\nQuestion: " + query
	return adk.GenerateText(ctx, e.llm, prompt, adk.GenerateOptions{
		Temperature: genai.Ptr[float32](0.1),
		MaxTokens:   100,
	})
}
