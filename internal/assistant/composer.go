package assistant

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/bizassist/internal/adk"
	"github.com/run-bigpig/bizassist/internal/models"
)

// maxPassageChars 模板回复中单段摘录的最大长度
const maxPassageChars = 320

// Composer 根据检索段落组织回答，引用标记为 [n]
type Composer interface {
	Compose(ctx context.Context, question string, passages []models.Passage) (string, error)
}

// citationIndex 引用去重编号，从 1 开始
func citationIndex(passages []models.Passage) (map[string]int, []string) {
	index := make(map[string]int, len(passages))
	var ordered []string
	for _, p := range passages {
		if _, ok := index[p.Citation]; ok {
			continue
		}
		ordered = append(ordered, p.Citation)
		index[p.Citation] = len(ordered)
	}
	return index, ordered
}

// TemplateComposer 不依赖模型的摘录式回答
type TemplateComposer struct{}

// Compose 列出最相关的段落摘录
func (TemplateComposer) Compose(_ context.Context, _ string, passages []models.Passage) (string, error) {
	index, _ := citationIndex(passages)
	var sb strings.Builder
	sb.WriteString("Here's what I found in our knowledge base:\n")
	for _, p := range passages {
		sb.WriteString(fmt.Sprintf("\n- %s [%d]", excerpt(p.Text, maxPassageChars), index[p.Citation]))
	}
	return sb.String(), nil
}

// LLMComposer 基于 LLM 的回答生成
type LLMComposer struct {
	llm     model.LLM
	company string
}

// NewLLMComposer 创建 LLM 回答生成器
func NewLLMComposer(llm model.LLM, company string) *LLMComposer {
	return &LLMComposer{llm: llm, company: company}
}

// Compose 只依据给定段落作答
func (c *LLMComposer) Compose(ctx context.Context, question string, passages []models.Passage) (string, error) {
	index, _ := citationIndex(passages)
	var sb strings.Builder
	sb.WriteString("## Question\n")
	sb.WriteString(question + "\n\n")
	sb.WriteString("## Passages\n")
	for _, p := range passages {
		sb.WriteString(fmt.Sprintf("[%d] (%s)\n%s\n\n", index[p.Citation], p.Citation, p.Text))
	}
	sb.WriteString("## Instructions\n")
	sb.WriteString("Answer using only the passages above. Cite them inline as [n]. ")
	sb.WriteString("If they do not answer the question, say so. Keep it under 150 words and do not list sources.")

	return adk.GenerateText(ctx, c.llm, sb.String(), adk.GenerateOptions{
		System:      fmt.Sprintf("You are a friendly, professional assistant for %s.", c.company),
		Temperature: genai.Ptr[float32](0.4),
		MaxTokens:   500,
	})
}

// withSources 在回答后追加来源列表
func withSources(body string, passages []models.Passage) string {
	_, ordered := citationIndex(passages)
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n\nSources:")
	for i, c := range ordered {
		sb.WriteString(fmt.Sprintf("\n[%d] %s", i+1, c))
	}
	return sb.String()
}

// excerpt 按词截断
func excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndex(text[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return text[:cut] + "..."
}
