package leadscore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/run-bigpig/bizassist/internal/adk"
	"github.com/run-bigpig/bizassist/internal/models"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Rating 评估结果原始值，Score 可能是数字、字符串或缺失
type Rating struct {
	Score   any    `json:"lead_score"`
	Summary string `json:"summary"`
	Reason  string `json:"qualification_reason"`
}

// Rater 线索评估协作者
type Rater interface {
	Rate(ctx context.Context, lead models.LeadContext, excerpt []models.Message) (Rating, error)
}

// LLMRater 基于 LLM 的线索评估
type LLMRater struct {
	llm     model.LLM
	company string
}

// NewLLMRater 创建 LLM 评估器
func NewLLMRater(llm model.LLM, company string) *LLMRater {
	return &LLMRater{llm: llm, company: company}
}

// Rate 调用 LLM 评估线索
func (r *LLMRater) Rate(ctx context.Context, lead models.LeadContext, excerpt []models.Message) (Rating, error) {
	content, err := adk.GenerateText(ctx, r.llm, r.buildPrompt(lead, excerpt), adk.GenerateOptions{
		System:      r.systemPrompt(),
		JSON:        true,
		Temperature: genai.Ptr[float32](0.3),
		MaxTokens:   300,
	})
	if err != nil {
		return Rating{}, fmt.Errorf("rate lead: %w", err)
	}

	jsonStr := adk.ExtractJSON(content)
	if jsonStr == "" {
		return Rating{}, fmt.Errorf("no JSON in rating response: %s", adk.Truncate(content, 200))
	}
	var rating Rating
	if err := json.Unmarshal([]byte(jsonStr), &rating); err != nil {
		return Rating{}, fmt.Errorf("decode rating: %w", err)
	}
	return rating, nil
}

// systemPrompt 评分标准
func (r *LLMRater) systemPrompt() string {
	return "You are a B2B lead qualification assistant for " + r.company + ".\n" +
		"Given information about a potential lead, produce a concise one-sentence summary of their intent " +
		"and a lead score from 0 to 10 where:\n" +
		"- 9-10: decision maker with clear project needs and urgency\n" +
		"- 7-8: strong interest with budget or timeline mentioned\n" +
		"- 5-6: exploring options, some concrete requirements\n" +
		"- 3-4: early stage inquiry, vague needs\n" +
		"- 0-2: unqualified or irrelevant\n" +
		"Respond only with valid JSON."
}

// buildPrompt 构建评估 Prompt
func (r *LLMRater) buildPrompt(lead models.LeadContext, excerpt []models.Message) string {
	var sb strings.Builder
	sb.WriteString("Lead assessment for:\n")
	fmt.Fprintf(&sb, "Name: %s\n", lead.Name)
	fmt.Fprintf(&sb, "Contact: %s\n", lead.Email)
	if lead.Organization != "" {
		fmt.Fprintf(&sb, "Organization: %s\n", lead.Organization)
	}
	if lead.Interest != "" {
		fmt.Fprintf(&sb, "Project/Interest: %s\n", lead.Interest)
	}
	if len(excerpt) > 0 {
		sb.WriteString("\nConversation excerpt:\n")
		for _, m := range excerpt {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	sb.WriteString("\nProvide JSON with:\n")
	sb.WriteString("summary: one-sentence summary (max 30 words)\n")
	sb.WriteString("lead_score: number 0-10\n")
	sb.WriteString("qualification_reason: brief reason for the score\n")
	return sb.String()
}
