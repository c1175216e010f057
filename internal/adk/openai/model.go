package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/bizassist/internal/logger"
)

var modelLog = logger.New("openai:model")

var _ model.LLM = &OpenAIModel{}

var (
	ErrNoChoicesInResponse = errors.New("no choices in OpenAI response")
)

// OpenAIModel 实现 model.LLM 接口，支持 thinking 模型
type OpenAIModel struct {
	Client       *openai.Client
	ModelName    string
	NoSystemRole bool // 不支持 system role，需降级处理
}

// NewOpenAIModel 创建 OpenAI 模型
func NewOpenAIModel(modelName string, cfg openai.ClientConfig, noSystemRole bool) *OpenAIModel {
	client := openai.NewClientWithConfig(cfg)
	return &OpenAIModel{
		Client:       client,
		ModelName:    modelName,
		NoSystemRole: noSystemRole,
	}
}

// Name 返回模型名称
func (o *OpenAIModel) Name() string {
	return o.ModelName
}

// GenerateContent 实现 model.LLM 接口
func (o *OpenAIModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	if stream {
		return o.generateStream(ctx, req)
	}
	return o.generate(ctx, req)
}

// generate 非流式生成
func (o *OpenAIModel) generate(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)

		resp, err := o.Client.CreateChatCompletion(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}

		llmResp, err := convertChatCompletionResponse(&resp)
		if err != nil {
			yield(nil, err)
			return
		}

		yield(llmResp, nil)
	}
}

// generateStream 流式生成
func (o *OpenAIModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)
		openaiReq.Stream = true

		stream, err := o.Client.CreateChatCompletionStream(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer stream.Close()

		o.processStream(stream, yield)
	}
}

// processStream 处理流式响应，逐段输出后再发送聚合结果
func (o *OpenAIModel) processStream(stream *openai.ChatCompletionStream, yield func(*model.LLMResponse, error) bool) {
	var finishReason genai.FinishReason
	var usageMetadata *genai.GenerateContentResponseUsageMetadata
	var text, reasoning strings.Builder

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			modelLog.Warn("stream interrupted: %v", err)
			yield(nil, fmt.Errorf("stream read: %w", err))
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		// thinking 模型的推理内容单独标记
		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
			if !yield(partialResponse(&genai.Part{Text: choice.Delta.ReasoningContent, Thought: true}), nil) {
				return
			}
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if !yield(partialResponse(&genai.Part{Text: choice.Delta.Content}), nil) {
				return
			}
		}
		if choice.FinishReason != "" {
			finishReason = convertFinishReason(string(choice.FinishReason))
		}
		if chunk.Usage != nil {
			usageMetadata = convertUsage(*chunk.Usage)
		}
	}

	content := &genai.Content{Role: genai.RoleModel}
	if reasoning.Len() > 0 {
		content.Parts = append(content.Parts, &genai.Part{Text: reasoning.String(), Thought: true})
	}
	if text.Len() > 0 {
		content.Parts = append(content.Parts, &genai.Part{Text: text.String()})
	}
	yield(&model.LLMResponse{
		Content:       content,
		UsageMetadata: usageMetadata,
		FinishReason:  finishReason,
		TurnComplete:  true,
	}, nil)
}

// partialResponse 构造流式中间响应
func partialResponse(part *genai.Part) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}},
		Partial: true,
	}
}
