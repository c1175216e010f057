// Package adktest 提供测试用的 model.LLM 实现
package adktest

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

var _ model.LLM = &FakeLLM{}

// FakeLLM 按脚本返回内容的模型
type FakeLLM struct {
	mu sync.Mutex
	// Responses 依次返回，用尽后重复最后一条
	Responses []string
	// Handler 非空时优先于 Responses
	Handler func(prompt string) (string, error)
	Err     error
	Delay   time.Duration
	prompts []string
}

// NewFakeLLM 创建返回固定内容的模型
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{Responses: responses}
}

// Name 返回模型名称
func (f *FakeLLM) Name() string {
	return "fake"
}

// GenerateContent 实现 model.LLM 接口
func (f *FakeLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		prompt := promptText(req)
		f.mu.Lock()
		idx := len(f.prompts)
		f.prompts = append(f.prompts, prompt)
		f.mu.Unlock()

		if f.Delay > 0 {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-time.After(f.Delay):
			}
		}
		if f.Err != nil {
			yield(nil, f.Err)
			return
		}

		var text string
		if f.Handler != nil {
			var err error
			if text, err = f.Handler(prompt); err != nil {
				yield(nil, err)
				return
			}
		} else if len(f.Responses) > 0 {
			text = f.Responses[min(idx, len(f.Responses)-1)]
		}
		yield(&model.LLMResponse{
			Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{genai.NewPartFromText(text)}},
			TurnComplete: true,
		}, nil)
	}
}

// Calls 调用次数
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// Prompts 已收到的提示词
func (f *FakeLLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func promptText(req *model.LLMRequest) string {
	var sb strings.Builder
	for _, c := range req.Contents {
		if c == nil {
			continue
		}
		for _, p := range c.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
