// Package app 按配置组装检索、排期、评分、线索和会话各组件
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/adk/model"

	"github.com/run-bigpig/bizassist/internal/adk"
	bizmcp "github.com/run-bigpig/bizassist/internal/adk/mcp"
	"github.com/run-bigpig/bizassist/internal/assistant"
	"github.com/run-bigpig/bizassist/internal/config"
	"github.com/run-bigpig/bizassist/internal/crm"
	"github.com/run-bigpig/bizassist/internal/embed"
	"github.com/run-bigpig/bizassist/internal/jobs"
	"github.com/run-bigpig/bizassist/internal/knowledge"
	"github.com/run-bigpig/bizassist/internal/leadscore"
	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/metrics"
	"github.com/run-bigpig/bizassist/internal/pkg/paths"
	"github.com/run-bigpig/bizassist/internal/retrieval"
	"github.com/run-bigpig/bizassist/internal/scheduling"
	"github.com/run-bigpig/bizassist/internal/server"
	"github.com/run-bigpig/bizassist/internal/session"
)

var log = logger.New("App")

// Options 组装选项，测试用于替换时钟、日历和指标注册表
type Options struct {
	Registerer prometheus.Registerer
	Calendar   scheduling.Calendar
	Now        func() time.Time
}

// App 运行中的助手实例
type App struct {
	Config       *config.Config
	Index        retrieval.Index
	Retrieval    *retrieval.Service
	Orchestrator *assistant.Orchestrator
	Sessions     *session.Manager
	Leads        crm.Store
	Metrics      *metrics.Metrics

	registerer   prometheus.Registerer
	sessionStore session.Store
	reindexer    *jobs.Reindexer
	llm          model.LLM
}

// New 按配置创建各组件，未配置模型时全部使用离线实现
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger.SetGlobalLevel(logger.ParseLevel(cfg.LogLevel))

	a := &App{Config: cfg, registerer: opts.Registerer}
	factory := adk.NewModelFactory()

	llm, err := factory.CreateModel(ctx, &cfg.AI)
	switch {
	case errors.Is(err, adk.ErrModelDisabled):
		log.Info("no model provider configured, running offline")
	case err != nil:
		return nil, fmt.Errorf("create model: %w", err)
	default:
		log.Info("using %s model %s", cfg.AI.Provider, cfg.AI.ModelName)
		a.llm = llm
	}

	if a.Index, err = newIndex(cfg, factory); err != nil {
		return nil, err
	}
	var expander retrieval.Expander
	if a.llm != nil && cfg.Retrieval.Expand {
		expander = retrieval.NewLLMExpander(a.llm, cfg.Company.Name)
	}
	a.Retrieval = retrieval.NewService(a.Index, expander, cfg.RetrievalOptions())

	hours, err := cfg.BusinessHours()
	if err != nil {
		return nil, err
	}
	calendar := opts.Calendar
	if calendar == nil {
		calendar = scheduling.NewMemoryCalendar(cfg.Scheduling.MeetBaseURL)
	}
	calendarGateway := scheduling.NewCalendarGateway(calendar, hours)
	if opts.Now != nil {
		calendarGateway.SetClock(opts.Now)
	}
	gateway := scheduling.NewRetryingGateway(calendarGateway, cfg.RetryPolicy())

	if a.Leads, err = OpenLeadStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.Metrics = metrics.New(opts.Registerer)

	a.Orchestrator, err = assistant.New(a.deps(calendarGateway, gateway), assistant.Config{
		Company:         cfg.Company.Name,
		OrganizerEmail:  cfg.Company.OrganizerEmail,
		Location:        hours.Location,
		HoursLabel:      hours.String(),
		DefaultDuration: cfg.Scheduling.DefaultDuration,
		Source:          cfg.Company.Source,
		Alternatives:    cfg.Scheduling.Alternatives,
		Timeouts:        cfg.Timeouts,
	})
	if err != nil {
		_ = a.Leads.Close()
		return nil, err
	}
	if opts.Now != nil {
		a.Orchestrator.SetClock(opts.Now)
	}

	if a.sessionStore, err = openSessionStore(ctx, cfg); err != nil {
		_ = a.Leads.Close()
		return nil, err
	}
	if mem, ok := a.sessionStore.(*session.MemoryStore); ok {
		a.Metrics.ObserveSessions(mem.Len)
	}
	a.Sessions = session.NewManager(a.sessionStore, a.Orchestrator)
	return a, nil
}

func (a *App) deps(suggester scheduling.Suggester, gateway scheduling.Gateway) assistant.Deps {
	deps := assistant.Deps{
		Retriever: a.Retrieval,
		Gateway:   gateway,
		Suggester: suggester,
		Store:     a.Leads,
		Recorder:  a.Metrics,
	}
	resolvers := scheduling.ChainResolver{scheduling.DateResolver{}}
	if a.llm != nil {
		deps.Classifier = assistant.NewLLMClassifier(a.llm, a.Config.Company.Name)
		deps.Composer = assistant.NewLLMComposer(a.llm, a.Config.Company.Name)
		deps.Scorer = leadscore.NewScorer(leadscore.NewLLMRater(a.llm, a.Config.Company.Name), a.Config.Timeouts.Score)
		resolvers = append(resolvers, scheduling.NewLLMResolver(a.llm))
	} else {
		deps.Classifier = assistant.RuleClassifier{}
		deps.Composer = assistant.TemplateComposer{}
		deps.Scorer = leadscore.NewScorer(leadscore.HeuristicRater{}, a.Config.Timeouts.Score)
	}
	deps.Resolver = resolvers
	return deps
}

func newIndex(cfg *config.Config, factory *adk.ModelFactory) (retrieval.Index, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		embedder, err := factory.CreateEmbedder(&cfg.AI, cfg.Embedding.Model)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		return retrieval.NewVectorIndex(embedder), nil
	case "hash":
		return retrieval.NewVectorIndex(retrieval.NewHashEmbedder(cfg.Embedding.Dims)), nil
	default:
		return retrieval.NewKeywordIndex(), nil
	}
}

// OpenLeadStore 按配置打开线索存储
func OpenLeadStore(ctx context.Context, cfg *config.Config) (crm.Store, error) {
	switch cfg.CRM.Backend {
	case "memory":
		return crm.NewMemoryStore(), nil
	case "mongo":
		return crm.OpenMongo(ctx, cfg.CRM.MongoURI, cfg.CRM.MongoDatabase)
	}

	path := cfg.Path(cfg.CRM.Path)
	if _, err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create lead store dir: %w", err)
	}
	log.Info("lead store %s at %s", cfg.CRM.Backend, path)
	if cfg.CRM.Backend == "sheet" {
		return crm.OpenSheet(path)
	}
	return crm.OpenSQLite(ctx, path)
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case "file":
		return session.NewFileStore(cfg.Path(cfg.Session.Dir), cfg.Session.TTL)
	case "redis":
		return session.NewRedisStore(ctx, cfg.Session.RedisURL, cfg.Session.TTL)
	default:
		return session.NewMemoryStore(cfg.Session.TTL), nil
	}
}

// Online 是否配置了模型服务
func (a *App) Online() bool {
	return a.llm != nil
}

// Ingest 重建知识库索引，未配置目录时使用内置知识库
func (a *App) Ingest(ctx context.Context) (knowledge.IngestStats, error) {
	chunker := knowledge.NewChunker(a.Config.Knowledge.ChunkSize, a.Config.Knowledge.ChunkOverlap)
	if dir := a.Config.Knowledge.Dir; dir != "" {
		return knowledge.IngestDir(ctx, dir, chunker, a.Index)
	}
	return knowledge.IngestFS(ctx, embed.Knowledge(), chunker, a.Index)
}

// StartJobs 启动定时任务，reindex_interval 为 0 时不启动
func (a *App) StartJobs() error {
	interval := a.Config.Knowledge.ReindexInterval
	if interval <= 0 || a.reindexer != nil {
		return nil
	}
	r, err := jobs.NewReindexer(interval, a.Ingest)
	if err != nil {
		return err
	}
	r.Start()
	a.reindexer = r
	log.Info("knowledge reindex every %s", interval)
	return nil
}

// Server 创建 HTTP 服务
func (a *App) Server() *server.Server {
	return server.New(a.Sessions, a.Leads, server.Options{
		RateLimit:  a.Config.Server.RateLimit,
		RateBurst:  a.Config.Server.RateBurst,
		BodyLimit:  a.Config.Server.BodyLimit,
		Registerer: a.registerer,
		Metrics:    a.Metrics,
		Chunks:     a.Index.Len,
	})
}

// MCPServer 创建 MCP 服务，暴露检索、对话和线索查询工具
func (a *App) MCPServer() *mcp.Server {
	return bizmcp.NewServer(a.Config.Company.Name, bizmcp.Deps{
		Retriever:     a.Retrieval,
		Conversations: a.Sessions,
		Leads:         a.Leads,
		IsNotFound:    func(err error) bool { return errors.Is(err, crm.ErrNotFound) },
	})
}

// Close 停止定时任务并关闭存储
func (a *App) Close() error {
	var errs []error
	if a.reindexer != nil {
		errs = append(errs, a.reindexer.Stop())
		a.reindexer = nil
	}
	if a.sessionStore != nil {
		errs = append(errs, a.sessionStore.Close())
	}
	if a.Leads != nil {
		errs = append(errs, a.Leads.Close())
	}
	return errors.Join(errs...)
}
