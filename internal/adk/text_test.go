package adk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/run-bigpig/bizassist/internal/adk/adktest"
)

// TestExtractJSON 测试多种格式的 JSON 提取
func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"纯 JSON", `{"a":1}`, `{"a":1}`},
		{"json 代码块", "result:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"普通代码块", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"前后有文字", `sure {"a":{"b":"}"}} done`, `{"a":{"b":"}"}}`},
		{"无 JSON", "no braces here", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ExtractJSON(c.in); got != c.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

// TestGenerateText 测试文本生成
func TestGenerateText(t *testing.T) {
	llm := adktest.NewFakeLLM("  hello  ")
	got, err := GenerateText(context.Background(), llm, "hi", GenerateOptions{System: "sys", JSON: true})
	if err != nil {
		t.Fatalf("生成失败: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}

	if _, err := GenerateText(context.Background(), adktest.NewFakeLLM(""), "hi", GenerateOptions{}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("空响应应返回 ErrEmptyResponse, got %v", err)
	}
}

// TestGenerateTextTimeout 测试超时
func TestGenerateTextTimeout(t *testing.T) {
	llm := &adktest.FakeLLM{Responses: []string{"late"}, Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := GenerateText(ctx, llm, "hi", GenerateOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("期望 DeadlineExceeded, got %v", err)
	}
}
