package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/bizassist/internal/adk"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/scheduling"
)

// ErrClassificationAmbiguous 无法判断用户意图
var ErrClassificationAmbiguous = errors.New("intent is ambiguous")

// Entities 从用户消息中抽取的字段，未提及的字段为空
type Entities struct {
	Name           string        `json:"name,omitempty"`
	Email          string        `json:"email,omitempty"`
	Organization   string        `json:"organization,omitempty"`
	Need           string        `json:"need,omitempty"`
	TimePreference string        `json:"time_preference,omitempty"`
	Duration       time.Duration `json:"-"`
	Attendees      []string      `json:"attendees,omitempty"`
}

// Empty 是否未抽取到任何字段
func (e Entities) Empty() bool {
	return e.Need == "" && !e.Scheduling()
}

// Scheduling 是否包含预约相关字段
func (e Entities) Scheduling() bool {
	return e.Name != "" || e.Email != "" || e.Organization != "" || e.TimePreference != "" ||
		e.Duration > 0 || len(e.Attendees) > 0
}

// Classification 意图识别结果
type Classification struct {
	Intent   models.Intent
	Entities Entities
	Query    string // 信息类问题的检索语句
}

// ClassifyInput 意图识别输入
type ClassifyInput struct {
	Text    string
	Phase   models.Phase
	History []models.Message
	Lead    models.LeadContext
	Meeting models.MeetingContext
}

// Classifier 意图识别
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// LLMClassifier 基于 LLM 的意图识别与字段抽取
type LLMClassifier struct {
	llm     model.LLM
	company string
}

// NewLLMClassifier 创建 LLM 意图识别器
func NewLLMClassifier(llm model.LLM, company string) *LLMClassifier {
	return &LLMClassifier{llm: llm, company: company}
}

// llmDecision 模型输出格式
type llmDecision struct {
	Intent          string   `json:"intent"`
	Ambiguous       bool     `json:"ambiguous"`
	Query           string   `json:"query"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Organization    string   `json:"organization"`
	Need            string   `json:"need"`
	TimePreference  string   `json:"time_preference"`
	DurationMinutes float64  `json:"duration_minutes"`
	Attendees       []string `json:"attendees"`
}

// Classify 调用模型识别意图
func (c *LLMClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	content, err := adk.GenerateText(ctx, c.llm, c.buildPrompt(in), adk.GenerateOptions{
		System:      c.systemPrompt(),
		JSON:        true,
		Temperature: genai.Ptr[float32](0),
		MaxTokens:   400,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	jsonStr := adk.ExtractJSON(content)
	if jsonStr == "" {
		return Classification{}, fmt.Errorf("classify: no JSON in response: %s", adk.Truncate(content, 200))
	}
	var d llmDecision
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return Classification{}, fmt.Errorf("classify: decode %s: %w", adk.Truncate(jsonStr, 200), err)
	}
	if d.Ambiguous {
		return Classification{}, ErrClassificationAmbiguous
	}

	out := Classification{
		Intent: models.ParseIntent(strings.ToLower(strings.TrimSpace(d.Intent))),
		Query:  strings.TrimSpace(d.Query),
		Entities: Entities{
			Name:           strings.TrimSpace(d.Name),
			Email:          strings.TrimSpace(d.Email),
			Organization:   strings.TrimSpace(d.Organization),
			Need:           strings.TrimSpace(d.Need),
			TimePreference: strings.TrimSpace(d.TimePreference),
			Attendees:      d.Attendees,
		},
	}
	if d.DurationMinutes > 0 {
		out.Entities.Duration = time.Duration(d.DurationMinutes * float64(time.Minute))
	} else if out.Entities.TimePreference != "" {
		out.Entities.Duration = scheduling.ParseDuration(in.Text)
	}
	if out.Intent == models.IntentInformational && out.Query == "" {
		out.Query = in.Text
	}
	return out, nil
}

func (c *LLMClassifier) systemPrompt() string {
	return fmt.Sprintf(`You are the front desk assistant of %s. Classify the latest user message.

Intents:
- informational: a question about the company, its services, pricing, process or expertise
- scheduling_request: the user wants a meeting or consultation, or provides details for booking one
- correction: the user changes a detail they gave earlier (name, email, company, time)
- other: greetings, thanks, small talk

Extract only values the user stated in the latest message. Leave unknown fields empty.
time_preference keeps the user's own wording (e.g. "tomorrow at 2pm").
Set ambiguous to true only when the message cannot be understood at all.

Respond with JSON only:
{"intent":"...","ambiguous":false,"query":"standalone question for knowledge search","name":"","email":"","organization":"","need":"","time_preference":"","duration_minutes":0,"attendees":[]}`, c.company)
}

func (c *LLMClassifier) buildPrompt(in ClassifyInput) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Conversation phase\n%s\n\n", in.Phase))
	sb.WriteString("## Known details\n")
	sb.WriteString(fmt.Sprintf("name: %s\nemail: %s\norganization: %s\nneed: %s\nproposed time: %s\n\n",
		in.Lead.Name, in.Lead.Email, in.Lead.Organization, in.Lead.Interest, in.Meeting.ProposedTimeText))
	if len(in.History) > 0 {
		sb.WriteString("## Recent messages\n")
		for _, m := range in.History {
			sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, adk.Truncate(m.Content, 300)))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Latest user message\n")
	sb.WriteString(in.Text)
	return sb.String()
}
