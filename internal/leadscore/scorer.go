// Package leadscore 线索评分：把评估协作者的输出规整为 0-10 的整数分和等级
package leadscore

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
)

var log = logger.New("LeadScore")

// DefaultTimeout 单次评估的最大时长
const DefaultTimeout = 20 * time.Second

// 评估失败时的说明
const failedNotes = "Assessment unavailable, default score applied"

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Result 评分结果
type Result struct {
	Score   int               `json:"score"`
	Status  models.LeadStatus `json:"status"`
	Summary string            `json:"summary,omitempty"`
	Notes   string            `json:"notes,omitempty"`
	Failed  bool              `json:"failed,omitempty"` // 评估失败，结果为兜底值
}

// Scorer 线索评分器，从不返回错误
type Scorer struct {
	rater   Rater
	timeout time.Duration
}

// NewScorer 创建评分器，timeout <= 0 时使用默认值
func NewScorer(rater Rater, timeout time.Duration) *Scorer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scorer{rater: rater, timeout: timeout}
}

// Score 评估线索；任何失败都返回 0 分 Cold
func (s *Scorer) Score(ctx context.Context, lead models.LeadContext, excerpt []models.Message) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("rater panic recovered: %v", r)
			result = fallback()
		}
	}()

	if s.rater == nil {
		return fallback()
	}

	rateCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rating, err := s.rater.Rate(rateCtx, lead, excerpt)
	if err != nil {
		log.Warn("lead rating failed for %s: %v", lead.Email, err)
		return fallback()
	}

	raw, ok := parseScore(rating.Score)
	if !ok {
		log.Warn("non-numeric lead score %v for %s", rating.Score, lead.Email)
		return fallback()
	}

	score := Normalize(raw)
	log.Info("lead %s scored %d", lead.Email, score)
	return Result{
		Score:   score,
		Status:  models.StatusForScore(score),
		Summary: strings.TrimSpace(rating.Summary),
		Notes:   strings.TrimSpace(rating.Reason),
	}
}

// Normalize 四舍五入并截断到 [0, 10]
func Normalize(raw float64) int {
	score := int(math.Round(raw))
	if score < models.MinLeadScore {
		return models.MinLeadScore
	}
	if score > models.MaxLeadScore {
		return models.MaxLeadScore
	}
	return score
}

// fallback 兜底结果
func fallback() Result {
	return Result{
		Score:  models.MinLeadScore,
		Status: models.LeadStatusCold,
		Notes:  failedNotes,
		Failed: true,
	}
}

// parseScore 解析评分原始值，NaN 和无穷视为无效
func parseScore(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// "8/10" 之类取第一个数字
			m := numberPattern.FindString(s)
			if m == "" {
				return 0, false
			}
			if parsed, err = strconv.ParseFloat(m, 64); err != nil {
				return 0, false
			}
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
