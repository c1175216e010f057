package models

// AIProvider 模型服务提供方
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderGemini AIProvider = "gemini"
	AIProviderNone   AIProvider = "none" // 离线模式，使用规则实现
)

// AIConfig 模型服务配置
type AIConfig struct {
	Provider     AIProvider `json:"provider" mapstructure:"provider"`
	BaseURL      string     `json:"baseUrl" mapstructure:"base_url"`
	APIKey       string     `json:"apiKey" mapstructure:"api_key"`
	ModelName    string     `json:"modelName" mapstructure:"model"`
	Temperature  float64    `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int        `json:"maxTokens" mapstructure:"max_tokens"`
	NoSystemRole bool       `json:"noSystemRole" mapstructure:"no_system_role"` // 不支持 system role 的模型
}

// Enabled 是否配置了可用的模型
func (c AIConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != AIProviderNone && c.ModelName != ""
}
