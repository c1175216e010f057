// Package config 加载 .env、YAML 配置文件和 BIZASSIST_* 环境变量
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/run-bigpig/bizassist/internal/assistant"
	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/pkg/paths"
	"github.com/run-bigpig/bizassist/internal/retrieval"
	"github.com/run-bigpig/bizassist/internal/scheduling"
)

var log = logger.New("Config")

// EnvPrefix 环境变量前缀
const EnvPrefix = "BIZASSIST"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config 应用配置
type Config struct {
	LogLevel   string             `mapstructure:"log_level"`
	DataDir    string             `mapstructure:"data_dir"`
	Company    CompanyConfig      `mapstructure:"company"`
	AI         models.AIConfig    `mapstructure:"ai"`
	Embedding  EmbeddingConfig    `mapstructure:"embedding"`
	Knowledge  KnowledgeConfig    `mapstructure:"knowledge"`
	Retrieval  RetrievalConfig    `mapstructure:"retrieval"`
	Scheduling SchedulingConfig   `mapstructure:"scheduling"`
	Timeouts   assistant.Timeouts `mapstructure:"timeouts"`
	CRM        CRMConfig          `mapstructure:"crm"`
	Session    SessionConfig      `mapstructure:"session"`
	Server     ServerConfig       `mapstructure:"server"`
}

// CompanyConfig 公司信息
type CompanyConfig struct {
	Name           string `mapstructure:"name"`
	OrganizerEmail string `mapstructure:"organizer_email"`
	Source         string `mapstructure:"source"`
}

// EmbeddingConfig 检索索引配置，provider 为 keyword、hash 或 openai
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Dims     int    `mapstructure:"dims"`
}

// KnowledgeConfig 知识库配置，dir 为空时使用内置知识库
type KnowledgeConfig struct {
	Dir             string        `mapstructure:"dir"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	ReindexInterval time.Duration `mapstructure:"reindex_interval"`
}

// RetrievalConfig 检索参数
type RetrievalConfig struct {
	TopK         int     `mapstructure:"top_k"`
	CandidateK   int     `mapstructure:"candidate_k"`
	MinRelevance float64 `mapstructure:"min_relevance"`
	Expand       bool    `mapstructure:"expand"`
}

// SchedulingConfig 营业时间和网关重试
type SchedulingConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	Open            string        `mapstructure:"open"`
	Close           string        `mapstructure:"close"`
	Workdays        []string      `mapstructure:"workdays"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	Alternatives    int           `mapstructure:"alternatives"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	MeetBaseURL     string        `mapstructure:"meet_base_url"`
}

// CRMConfig 线索存储，backend 为 memory、sqlite、sheet 或 mongo
type CRMConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// SessionConfig 会话存储，backend 为 memory、file 或 redis
type SessionConfig struct {
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	Dir      string        `mapstructure:"dir"`
	RedisURL string        `mapstructure:"redis_url"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每个会话每秒消息数
	RateBurst int     `mapstructure:"rate_burst"`
	BodyLimit int     `mapstructure:"body_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", paths.GetDataDir())

	v.SetDefault("company.name", "Apex Digital")
	v.SetDefault("company.organizer_email", "")
	v.SetDefault("company.source", "chat")

	v.SetDefault("ai.provider", string(models.AIProviderNone))
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.no_system_role", false)

	v.SetDefault("embedding.provider", "keyword")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dims", retrieval.DefaultHashDims)

	v.SetDefault("knowledge.dir", "")
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.reindex_interval", time.Duration(0))

	v.SetDefault("retrieval.top_k", retrieval.DefaultTopK)
	v.SetDefault("retrieval.candidate_k", retrieval.DefaultCandidateK)
	v.SetDefault("retrieval.min_relevance", retrieval.DefaultMinRelevance)
	v.SetDefault("retrieval.expand", true)

	v.SetDefault("scheduling.timezone", "UTC")
	v.SetDefault("scheduling.open", "09:00")
	v.SetDefault("scheduling.close", "18:00")
	v.SetDefault("scheduling.workdays", []string{"monday", "tuesday", "wednesday", "thursday", "friday"})
	v.SetDefault("scheduling.default_duration", scheduling.DefaultDuration)
	v.SetDefault("scheduling.alternatives", 3)
	v.SetDefault("scheduling.max_retries", scheduling.DefaultMaxRetries)
	v.SetDefault("scheduling.retry_base_delay", scheduling.DefaultRetryBaseDelay)
	v.SetDefault("scheduling.attempt_timeout", scheduling.DefaultAttemptTimeout)
	v.SetDefault("scheduling.meet_base_url", scheduling.DefaultMeetBaseURL)

	t := assistant.DefaultTimeouts()
	v.SetDefault("timeouts.classify", t.Classify)
	v.SetDefault("timeouts.retrieve", t.Retrieve)
	v.SetDefault("timeouts.compose", t.Compose)
	v.SetDefault("timeouts.resolve", t.Resolve)
	v.SetDefault("timeouts.schedule", t.Schedule)
	v.SetDefault("timeouts.score", t.Score)
	v.SetDefault("timeouts.store", t.Store)

	v.SetDefault("crm.backend", "sqlite")
	v.SetDefault("crm.path", "leads.db")
	v.SetDefault("crm.mongo_uri", "")
	v.SetDefault("crm.mongo_database", "bizassist")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.dir", "sessions")
	v.SetDefault("session.redis_url", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.body_limit", 1<<20)
}

// Load 依次加载 .env、配置文件和环境变量；path 为空时查找 bizassist.yaml
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", EnvPrefix+"_AI_API_KEY", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bizassist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(paths.GetDataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Info("using config file %s", used)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置是否自洽
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := c.BusinessHours(); err != nil {
		add("%v", err)
	}
	if c.Scheduling.DefaultDuration <= 0 {
		add("scheduling.default_duration must be positive")
	}
	if c.Scheduling.MaxRetries < 0 {
		add("scheduling.max_retries must not be negative")
	}
	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1 {
		add("retrieval.min_relevance must be within [0, 1]")
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		add("knowledge.chunk_overlap must be smaller than chunk_size")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		add("server.rate_limit and server.rate_burst must be positive")
	}

	switch c.AI.Provider {
	case models.AIProviderNone, "":
	case models.AIProviderOpenAI, models.AIProviderGemini:
		if c.AI.ModelName == "" {
			add("ai.model is required for provider %s", c.AI.Provider)
		}
	default:
		add("unknown ai.provider %q", c.AI.Provider)
	}
	switch c.Embedding.Provider {
	case "keyword", "hash":
	case "openai":
		if c.AI.APIKey == "" {
			add("embedding.provider openai requires ai.api_key")
		}
	default:
		add("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.CRM.Backend {
	case "memory":
	case "sqlite", "sheet":
		if c.CRM.Path == "" {
			add("crm.path is required for backend %s", c.CRM.Backend)
		}
	case "mongo":
		if c.CRM.MongoURI == "" {
			add("crm.mongo_uri is required for backend mongo")
		}
	default:
		add("unknown crm.backend %q", c.CRM.Backend)
	}
	switch c.Session.Backend {
	case "memory", "file":
	case "redis":
		if c.Session.RedisURL == "" {
			add("session.redis_url is required for backend redis")
		}
	default:
		add("unknown session.backend %q", c.Session.Backend)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Location 营业时间所在时区
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduling.timezone: %w", err)
	}
	return loc, nil
}

// BusinessHours 构造营业时间
func (c *Config) BusinessHours() (scheduling.BusinessHours, error) {
	loc, err := c.Location()
	if err != nil {
		return scheduling.BusinessHours{}, err
	}
	hours := scheduling.BusinessHours{Location: loc}
	if hours.Open, err = scheduling.ParseClock(c.Scheduling.Open); err != nil {
		return hours, fmt.Errorf("scheduling.open: %w", err)
	}
	if hours.Close, err = scheduling.ParseClock(c.Scheduling.Close); err != nil {
		return hours, fmt.Errorf("scheduling.close: %w", err)
	}
	for _, name := range c.Scheduling.Workdays {
		day, ok := parseWeekday(name)
		if !ok {
			return hours, fmt.Errorf("scheduling.workdays: unknown day %q", name)
		}
		hours.Workdays = append(hours.Workdays, day)
	}
	return hours, hours.Validate()
}

// RetryPolicy 网关重试策略
func (c *Config) RetryPolicy() scheduling.RetryPolicy {
	p := scheduling.DefaultRetryPolicy()
	p.MaxRetries = c.Scheduling.MaxRetries
	if c.Scheduling.RetryBaseDelay > 0 {
		p.BaseDelay = c.Scheduling.RetryBaseDelay
	}
	if c.Scheduling.AttemptTimeout > 0 {
		p.AttemptTimeout = c.Scheduling.AttemptTimeout
	}
	return p
}

// RetrievalOptions 检索参数
func (c *Config) RetrievalOptions() retrieval.Options {
	opts := retrieval.DefaultOptions()
	opts.TopK = c.Retrieval.TopK
	opts.CandidateK = c.Retrieval.CandidateK
	opts.MinRelevance = c.Retrieval.MinRelevance
	opts.SearchTimeout = c.Timeouts.Retrieve
	return opts
}

// Path 数据目录下的文件路径
func (c *Config) Path(name string) string {
	return paths.Resolve(c.DataDir, name)
}

func parseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, true
		}
	}
	return 0, false
}
