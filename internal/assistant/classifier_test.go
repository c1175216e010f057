package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/run-bigpig/bizassist/internal/adk/adktest"
	"github.com/run-bigpig/bizassist/internal/models"
)

// TestRuleClassifier 测试规则意图识别
func TestRuleClassifier(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		phase  models.Phase
		intent models.Intent
	}{
		{"提问", "What services do you offer?", models.PhaseGreeting, models.IntentInformational},
		{"预约", "Can we book a demo next week?", models.PhaseGreeting, models.IntentSchedulingRequest},
		{"问候", "hello there", models.PhaseGreeting, models.IntentOther},
		{"收集阶段提供信息", "jane@acme.io", models.PhaseCollectingLeadInfo, models.IntentSchedulingRequest},
		{"收集阶段提问", "How much does it cost?", models.PhaseCollectingLeadInfo, models.IntentInformational},
		{"更正", "Actually my email is jo@acme.io", models.PhaseCollectingLeadInfo, models.IntentCorrection},
		{"自我介绍", "I'm Sam Lee from Globex", models.PhaseGreeting, models.IntentSchedulingRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := RuleClassifier{}.Classify(context.Background(), ClassifyInput{Text: c.text, Phase: c.phase})
			if err != nil {
				t.Fatalf("识别失败: %v", err)
			}
			if got.Intent != c.intent {
				t.Errorf("%q: got %s, want %s", c.text, got.Intent, c.intent)
			}
		})
	}

	if _, err := (RuleClassifier{}).Classify(context.Background(), ClassifyInput{Text: "hmm?"}); !errors.Is(err, ErrClassificationAmbiguous) {
		t.Errorf("期望模糊, got %v", err)
	}
}

// TestExtractEntities 测试字段抽取
func TestExtractEntities(t *testing.T) {
	ent := ExtractEntities("Hi, I'm John Smith from TechCorp, my email is john@techcorp.com. Can we schedule a 45 minute call tomorrow at 2pm?")
	want := Entities{Name: "John Smith", Email: "john@techcorp.com", Organization: "TechCorp",
		TimePreference: "tomorrow at 2pm", Duration: 45 * time.Minute}
	if ent.Name != want.Name || ent.Email != want.Email || ent.Organization != want.Organization ||
		ent.TimePreference != want.TimePreference || ent.Duration != want.Duration {
		t.Errorf("got %+v, want %+v", ent, want)
	}

	ent = ExtractEntities("my name is jane doe and my company is Acme Robotics. We need a new booking system")
	if ent.Name != "jane doe" || ent.Organization != "Acme Robotics" || ent.Need != "a new booking system" {
		t.Errorf("got %+v", ent)
	}

	ent = ExtractEntities("let's meet on Monday at 9:30am")
	if ent.TimePreference != "Monday at 9:30am" || ent.Organization != "" {
		t.Errorf("星期不应被识别为公司: %+v", ent)
	}

	if ent := ExtractEntities("2026-10-20 14:30 works"); ent.TimePreference != "2026-10-20 14:30" {
		t.Errorf("got %q", ent.TimePreference)
	}
}

// TestFillExpected 测试预约流程中的简短回复
func TestFillExpected(t *testing.T) {
	in := ClassifyInput{Text: "Sam Lee", Phase: models.PhaseCollectingLeadInfo}
	got, _ := RuleClassifier{}.Classify(context.Background(), in)
	if got.Entities.Name != "Sam Lee" {
		t.Errorf("应识别为名字: %+v", got.Entities)
	}

	in = ClassifyInput{Text: "Globex", Phase: models.PhaseCollectingLeadInfo, Lead: models.LeadContext{Name: "Sam Lee"}}
	got, _ = RuleClassifier{}.Classify(context.Background(), in)
	if got.Entities.Organization != "Globex" {
		t.Errorf("应识别为公司: %+v", got.Entities)
	}

	in = ClassifyInput{Text: "thanks", Phase: models.PhaseCollectingLeadInfo}
	got, _ = RuleClassifier{}.Classify(context.Background(), in)
	if !got.Entities.Empty() {
		t.Errorf("客套话不应填入字段: %+v", got.Entities)
	}
}

// TestLLMClassifier 测试 LLM 意图识别
func TestLLMClassifier(t *testing.T) {
	llm := adktest.NewFakeLLM("```json\n" + `{"intent":"scheduling_request","ambiguous":false,"query":"","name":"Jane Doe","email":"jane@acme.io","organization":"Acme","need":"mobile app","time_preference":"tomorrow at 2pm","duration_minutes":60,"attendees":["cto@acme.io"]}` + "\n```")
	c := NewLLMClassifier(llm, "Apex Digital")
	got, err := c.Classify(context.Background(), ClassifyInput{
		Text:    "Jane from Acme, book me for an hour tomorrow at 2pm",
		Phase:   models.PhaseGreeting,
		History: []models.Message{models.NewMessage(models.RoleAssistant, "Hello!", time.Now())},
	})
	if err != nil {
		t.Fatalf("识别失败: %v", err)
	}
	if got.Intent != models.IntentSchedulingRequest || got.Entities.Email != "jane@acme.io" ||
		got.Entities.Duration != time.Hour || len(got.Entities.Attendees) != 1 {
		t.Errorf("got %+v", got)
	}
	if p := llm.Prompts(); len(p) != 1 || !strings.Contains(p[0], "book me for an hour") {
		t.Errorf("prompt 应包含用户消息: %v", p)
	}

	t.Run("模糊", func(t *testing.T) {
		c := NewLLMClassifier(adktest.NewFakeLLM(`{"intent":"other","ambiguous":true}`), "Apex")
		if _, err := c.Classify(context.Background(), ClassifyInput{Text: "eh"}); !errors.Is(err, ErrClassificationAmbiguous) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("未知意图", func(t *testing.T) {
		c := NewLLMClassifier(adktest.NewFakeLLM(`{"intent":"weather"}`), "Apex")
		got, err := c.Classify(context.Background(), ClassifyInput{Text: "is it sunny"})
		if err != nil || got.Intent != models.IntentOther {
			t.Errorf("got %+v %v", got, err)
		}
	})

	t.Run("提问默认检索原文", func(t *testing.T) {
		c := NewLLMClassifier(adktest.NewFakeLLM(`{"intent":"informational"}`), "Apex")
		got, _ := c.Classify(context.Background(), ClassifyInput{Text: "what is your pricing"})
		if got.Query != "what is your pricing" {
			t.Errorf("query %q", got.Query)
		}
	})

	t.Run("非 JSON", func(t *testing.T) {
		c := NewLLMClassifier(adktest.NewFakeLLM("I think they want a meeting"), "Apex")
		if _, err := c.Classify(context.Background(), ClassifyInput{Text: "x"}); err == nil || errors.Is(err, ErrClassificationAmbiguous) {
			t.Errorf("应返回普通错误, got %v", err)
		}
	})
}

// TestComposers 测试回答组织
func TestComposers(t *testing.T) {
	passages := []models.Passage{
		{Text: "We build mobile apps.", Citation: "Services", Score: 0.9},
		{Text: "We also run cloud migrations.", Citation: "Services", Score: 0.7},
		{Text: "Projects start at 15000 USD.", Citation: "Pricing, p. 2", Score: 0.5},
	}
	body, err := TemplateComposer{}.Compose(context.Background(), "q", passages)
	if err != nil || !strings.Contains(body, "We build mobile apps. [1]") || !strings.Contains(body, "[2]") {
		t.Errorf("模板回答: %s", body)
	}
	out := withSources(body, passages)
	if !strings.HasSuffix(out, "Sources:\n[1] Services\n[2] Pricing, p. 2") {
		t.Errorf("来源列表: %s", out)
	}

	llm := adktest.NewFakeLLM("We build mobile apps [1].")
	got, err := NewLLMComposer(llm, "Apex").Compose(context.Background(), "What do you do?", passages)
	if err != nil || got != "We build mobile apps [1]." {
		t.Errorf("got %q %v", got, err)
	}
	if p := llm.Prompts(); len(p) != 1 || !strings.Contains(p[0], "[2] (Pricing, p. 2)") {
		t.Errorf("prompt 应带编号段落: %v", p)
	}

	if excerpt(strings.Repeat("word ", 100), 20) != "word word word word..." {
		t.Errorf("截断: %q", excerpt(strings.Repeat("word ", 100), 20))
	}
}

// TestNormalizeName 测试名字规范化
func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"jane doe":   "Jane Doe",
		"JOHN SMITH": "John Smith",
		"McKenzie":   "McKenzie",
		"  ":         "",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
