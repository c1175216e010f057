package scheduling

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
	"github.com/markusmobius/go-dateparser/date"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/bizassist/internal/adk"
)

// TimeResolver 将自然语言时间解析为具体时刻
type TimeResolver interface {
	Resolve(ctx context.Context, text string, now time.Time, loc *time.Location) (time.Time, error)
}

// DateResolver 基于 go-dateparser 的规则解析，只接受带具体时刻的表达
type DateResolver struct{}

// Resolve 解析时间，缺少时刻（如只有日期）视为未解析
func (DateResolver) Resolve(_ context.Context, text string, now time.Time, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrTimeUnresolved
	}
	if loc == nil {
		loc = time.UTC
	}
	cfg := &dps.Configuration{
		CurrentTime:         now.In(loc),
		DefaultTimezone:     loc,
		PreferredDateSource: dps.Future,
		ReturnTimeAsPeriod:  true,
	}
	dt, err := dps.Parse(cfg, text)
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, ErrTimeUnresolved
	}
	switch dt.Period {
	case date.Hour, date.Minute, date.Second:
		return dt.Time.In(loc), nil
	default:
		return time.Time{}, ErrTimeUnresolved
	}
}

// LLMResolver 规则解析失败时调用 LLM 转换为 ISO 时间
type LLMResolver struct {
	llm model.LLM
}

// NewLLMResolver 创建 LLM 时间解析器
func NewLLMResolver(llm model.LLM) *LLMResolver {
	return &LLMResolver{llm: llm}
}

// Resolve 让模型输出 ISO 8601 时间，无法确定时输出 UNKNOWN
func (r *LLMResolver) Resolve(ctx context.Context, text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	prompt := fmt.Sprintf("Current date and time: %s (%s, timezone %s).\n"+
		"Convert this meeting time request to ISO 8601 format YYYY-MM-DDTHH:MM:SS in that timezone.\n"+
		"If the request has no specific time of day, output UNKNOWN.\n"+
		"Output only the datetime or UNKNOWN.\n\nRequest: %s",
		local.Format("2006-01-02 15:04"), local.Weekday(), loc.String(), text)

	out, err := adk.GenerateText(ctx, r.llm, prompt, adk.GenerateOptions{
		Temperature: genai.Ptr[float32](0),
		MaxTokens:   40,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve time: %w", err)
	}
	out = strings.Trim(strings.TrimSpace(out), "`\"'")
	if strings.EqualFold(out, "UNKNOWN") {
		return time.Time{}, ErrTimeUnresolved
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, out, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrTimeUnresolved
}

// ChainResolver 依次尝试，返回第一个成功结果
type ChainResolver []TimeResolver

// Resolve 实现 TimeResolver
func (c ChainResolver) Resolve(ctx context.Context, text string, now time.Time, loc *time.Location) (time.Time, error) {
	lastErr := ErrTimeUnresolved
	for _, r := range c {
		t, err := r.Resolve(ctx, text, now, loc)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrTimeUnresolved) {
			log.Warn("time resolver failed: %v", err)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if errors.Is(lastErr, ErrTimeUnresolved) {
		return time.Time{}, lastErr
	}
	return time.Time{}, fmt.Errorf("%w: %v", ErrTimeUnresolved, lastErr)
}

var (
	durationPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)
	halfHourPattern = regexp.MustCompile(`(?i)\bhalf(?:\s+an)?\s+hour\b`)
	oneHourPattern  = regexp.MustCompile(`(?i)\b(?:an|one)\s+hour\b`)
)

// ParseDuration 解析 "30 minutes"、"1 hour"、"1h 30m" 等时长，无法识别返回 0
func ParseDuration(text string) time.Duration {
	if halfHourPattern.MatchString(text) {
		return 30 * time.Minute
	}
	var total time.Duration
	for _, m := range durationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := strings.ToLower(m[2])
		if strings.HasPrefix(unit, "h") {
			total += time.Duration(n * float64(time.Hour))
		} else {
			total += time.Duration(n * float64(time.Minute))
		}
	}
	if total == 0 && oneHourPattern.MatchString(text) {
		return time.Hour
	}
	return total
}
