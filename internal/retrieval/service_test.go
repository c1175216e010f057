package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/run-bigpig/bizassist/internal/adk/adktest"
	"github.com/run-bigpig/bizassist/internal/models"
)

type stubSearcher struct {
	results []models.ScoredChunk
	err     error
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, k int) ([]models.ScoredChunk, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	out := s.results
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func scored(id string, score float64) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: models.Chunk{ID: id, Title: "Doc " + id, Text: "text " + id},
		Score: score,
	}
}

// TestRetrieveThresholdAndTopK 测试阈值过滤、排序和数量限制
func TestRetrieveThresholdAndTopK(t *testing.T) {
	searcher := &stubSearcher{results: []models.ScoredChunk{
		scored("a", 0.5), scored("b", 0.9), scored("c", 0.39), scored("d", 0.7), scored("e", 0.45),
	}}
	svc := NewService(searcher, nil, DefaultOptions())

	got, err := svc.Retrieve(context.Background(), "services")
	if err != nil {
		t.Fatalf("检索失败: %v", err)
	}
	if len(got.Passages) != 3 {
		t.Fatalf("期望 3 条, got %d", len(got.Passages))
	}
	want := []float64{0.9, 0.7, 0.5}
	for i, p := range got.Passages {
		if p.Score != want[i] {
			t.Errorf("第 %d 条分数 %v, want %v", i, p.Score, want[i])
		}
		if p.Score < DefaultMinRelevance {
			t.Errorf("低于阈值的段落被返回: %v", p.Score)
		}
		if p.Citation == "" {
			t.Error("段落缺少引用")
		}
	}
}

// TestRetrieveBelowThreshold 测试全部低于阈值时返回空结果而非错误
func TestRetrieveBelowThreshold(t *testing.T) {
	svc := NewService(&stubSearcher{results: []models.ScoredChunk{scored("a", 0.2)}}, nil, DefaultOptions())
	got, err := svc.Retrieve(context.Background(), "weather on mars")
	if err != nil {
		t.Fatalf("不应返回错误: %v", err)
	}
	if !got.Empty() {
		t.Errorf("期望空结果, got %+v", got.Passages)
	}
}

// TestRetrieveInvalidScores 测试 NaN 分数被丢弃，零阈值使用默认值
func TestRetrieveInvalidScores(t *testing.T) {
	searcher := &stubSearcher{results: []models.ScoredChunk{
		scored("nan", math.NaN()), scored("low", 0.1), scored("a", 0.6), scored("inf", math.Inf(1)), scored("b", 0.45),
	}}
	svc := NewService(searcher, nil, Options{TopK: 3})
	if svc.Options().MinRelevance != DefaultMinRelevance {
		t.Errorf("零阈值应使用默认值, got %v", svc.Options().MinRelevance)
	}

	got, err := svc.Retrieve(context.Background(), "services")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Passages) != 2 || got.Passages[0].Citation != "Doc a" || got.Passages[1].Citation != "Doc b" {
		t.Errorf("got %+v", got.Passages)
	}
	if len(searcher.results) != 5 {
		t.Error("不应修改检索器返回的切片")
	}
}

// TestRetrieveDropsUncitable 测试无法引用的片段被丢弃
func TestRetrieveDropsUncitable(t *testing.T) {
	orphan := models.ScoredChunk{Chunk: models.Chunk{ID: "x", Text: "no source"}, Score: 0.95}
	svc := NewService(&stubSearcher{results: []models.ScoredChunk{orphan, scored("a", 0.6)}}, nil, DefaultOptions())
	got, _ := svc.Retrieve(context.Background(), "q")
	if len(got.Passages) != 1 || got.Passages[0].Citation != "Doc a" {
		t.Errorf("got %+v", got.Passages)
	}
}

// TestRetrieveErrors 测试空查询和检索失败
func TestRetrieveErrors(t *testing.T) {
	svc := NewService(&stubSearcher{}, nil, DefaultOptions())
	if _, err := svc.Retrieve(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("期望 ErrEmptyQuery, got %v", err)
	}

	svc = NewService(&stubSearcher{err: fmt.Errorf("index offline")}, nil, DefaultOptions())
	if _, err := svc.Retrieve(context.Background(), "q"); !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("期望 ErrRetrievalUnavailable, got %v", err)
	}
}

// TestExpansionFallback 测试查询扩展及失败回退
func TestExpansionFallback(t *testing.T) {
	searcher := &stubSearcher{}
	svc := NewService(searcher, NewLLMExpander(adktest.NewFakeLLM("pricing plans cost"), "Apex"), DefaultOptions())
	if _, err := svc.Retrieve(context.Background(), "how much?"); err != nil {
		t.Fatal(err)
	}
	if searcher.queries[0] != "pricing plans cost" {
		t.Errorf("应使用扩展查询, got %q", searcher.queries[0])
	}

	searcher = &stubSearcher{}
	slow := &adktest.FakeLLM{Responses: []string{"late"}, Delay: time.Second}
	opts := DefaultOptions()
	opts.ExpandTimeout = 10 * time.Millisecond
	svc = NewService(searcher, NewLLMExpander(slow, "Apex"), opts)
	if _, err := svc.Retrieve(context.Background(), "how much?"); err != nil {
		t.Fatal(err)
	}
	if searcher.queries[0] != "how much?" {
		t.Errorf("超时应回退原始查询, got %q", searcher.queries[0])
	}
}

// TestRetrieveIdempotent 测试相同索引状态下结果一致
func TestRetrieveIdempotent(t *testing.T) {
	idx := NewKeywordIndex()
	_ = idx.Add(context.Background(), []models.Chunk{
		{ID: "1", Title: "Services", Text: "We build mobile apps and web platforms."},
		{ID: "2", Title: "Hours", Text: "Office hours are Monday to Friday."},
	})
	svc := NewService(idx, nil, DefaultOptions())
	a, _ := svc.Retrieve(context.Background(), "mobile apps")
	b, _ := svc.Retrieve(context.Background(), "mobile apps")
	if len(a.Passages) == 0 || len(a.Passages) != len(b.Passages) || a.Passages[0] != b.Passages[0] {
		t.Errorf("两次结果不一致: %+v vs %+v", a.Passages, b.Passages)
	}
}
