package retrieval

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/run-bigpig/bizassist/internal/models"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true, "in": true,
	"on": true, "for": true, "with": true, "is": true, "are": true, "was": true, "be": true, "do": true,
	"does": true, "you": true, "your": true, "we": true, "our": true, "i": true, "me": true, "my": true,
	"what": true, "which": true, "who": true, "how": true, "can": true, "could": true, "would": true,
	"about": true, "tell": true, "please": true, "it": true, "this": true, "that": true, "at": true,
	"by": true, "from": true, "have": true, "has": true, "any": true, "there": true, "us": true,
}

// Tokenize 小写分词，去停用词并做简单词干处理
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// KeywordIndex 离线关键词索引
// 分数为查询词按 IDF 加权的覆盖率，取值 [0, 1]
type KeywordIndex struct {
	mu     sync.RWMutex
	chunks map[string]models.Chunk
	terms  map[string]map[string]bool // chunkID -> term set
	df     map[string]int
}

// NewKeywordIndex 创建关键词索引
func NewKeywordIndex() *KeywordIndex {
	k := &KeywordIndex{}
	k.Reset()
	return k
}

// Add 写入片段，相同 ID 覆盖
func (k *KeywordIndex) Add(_ context.Context, chunks []models.Chunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range chunks {
		if old, ok := k.terms[c.ID]; ok {
			for t := range old {
				k.df[t]--
			}
		}
		set := make(map[string]bool)
		for _, t := range Tokenize(c.Title + " " + c.Text) {
			set[t] = true
		}
		for t := range set {
			k.df[t]++
		}
		k.chunks[c.ID] = c
		k.terms[c.ID] = set
	}
	return nil
}

// Search 返回覆盖率最高的 k 个片段
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	qterms := uniq(Tokenize(query))
	if len(qterms) == 0 || len(k.chunks) == 0 {
		return nil, nil
	}
	n := float64(len(k.chunks))
	weights := make(map[string]float64, len(qterms))
	var total float64
	for _, t := range qterms {
		w := math.Log(1 + n/(float64(k.df[t])+0.5))
		weights[t] = w
		total += w
	}

	var results []models.ScoredChunk
	for id, set := range k.terms {
		var hit float64
		for _, t := range qterms {
			if set[t] {
				hit += weights[t]
			}
		}
		if hit == 0 {
			continue
		}
		results = append(results, models.ScoredChunk{Chunk: k.chunks[id], Score: hit / total})
	}
	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Reset 清空索引
func (k *KeywordIndex) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.chunks = make(map[string]models.Chunk)
	k.terms = make(map[string]map[string]bool)
	k.df = make(map[string]int)
}

// Len 片段数量
func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.chunks)
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
