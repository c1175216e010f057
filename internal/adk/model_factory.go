package adk

import (
	"context"
	"errors"
	"fmt"

	"github.com/run-bigpig/bizassist/internal/adk/openai"
	"github.com/run-bigpig/bizassist/internal/models"

	go_openai "github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// ErrModelDisabled 未配置模型服务
var ErrModelDisabled = errors.New("no model provider configured")

// ModelFactory 模型工厂，根据配置创建对应的 adk model
type ModelFactory struct{}

// NewModelFactory 创建模型工厂
func NewModelFactory() *ModelFactory {
	return &ModelFactory{}
}

// CreateModel 根据 AI 配置创建对应的模型
func (f *ModelFactory) CreateModel(ctx context.Context, config *models.AIConfig) (model.LLM, error) {
	if !config.Enabled() {
		return nil, ErrModelDisabled
	}
	switch config.Provider {
	case models.AIProviderGemini:
		return f.createGeminiModel(ctx, config)
	case models.AIProviderOpenAI:
		return f.createOpenAIModel(config), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

// CreateEmbedder 创建向量化客户端，使用 OpenAI 兼容接口和 AI 配置中的凭据
func (f *ModelFactory) CreateEmbedder(config *models.AIConfig, embeddingModel string) (*openai.Embedder, error) {
	if config.APIKey == "" {
		return nil, ErrModelDisabled
	}
	if config.Provider == models.AIProviderGemini {
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}
	return openai.NewEmbedder(embeddingModel, f.openAIConfig(config)), nil
}

// createGeminiModel 创建 Gemini 模型
func (f *ModelFactory) createGeminiModel(ctx context.Context, config *models.AIConfig) (model.LLM, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	return gemini.NewModel(ctx, config.ModelName, clientConfig)
}

// createOpenAIModel 创建 OpenAI 兼容模型
func (f *ModelFactory) createOpenAIModel(config *models.AIConfig) model.LLM {
	return openai.NewOpenAIModel(config.ModelName, f.openAIConfig(config), config.NoSystemRole)
}

// openAIConfig 构造 OpenAI 客户端配置
func (f *ModelFactory) openAIConfig(config *models.AIConfig) go_openai.ClientConfig {
	openaiCfg := go_openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		openaiCfg.BaseURL = config.BaseURL
	}
	return openaiCfg
}
