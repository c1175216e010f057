// Package assistant 对话编排：意图识别、知识问答、预约与线索采集
package assistant

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/leadscore"
	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/scheduling"
)

var log = logger.New("Assistant")

// ErrMissingDependency 缺少必需的协作组件
var ErrMissingDependency = errors.New("missing orchestrator dependency")

// Retriever 知识检索
type Retriever interface {
	Retrieve(ctx context.Context, query string) (models.RetrievalResult, error)
}

// LeadScorer 线索评分，不返回错误
type LeadScorer interface {
	Score(ctx context.Context, lead models.LeadContext, excerpt []models.Message) leadscore.Result
}

// LeadStore 线索写入
type LeadStore interface {
	Upsert(ctx context.Context, rec *models.LeadRecord) (string, error)
}

// Recorder 对话指标
type Recorder interface {
	TurnHandled(intent models.Intent, phase models.Phase, elapsed time.Duration)
	RetrievalServed(passages int)
	MeetingScheduled()
	LeadCaptured(status models.CaptureStatus)
}

type nopRecorder struct{}

func (nopRecorder) TurnHandled(models.Intent, models.Phase, time.Duration) {}
func (nopRecorder) RetrievalServed(int) {}
func (nopRecorder) MeetingScheduled() {}
func (nopRecorder) LeadCaptured(models.CaptureStatus) {}

// Timeouts 各协作组件的调用超时
type Timeouts struct {
	Classify time.Duration `mapstructure:"classify"`
	Retrieve time.Duration `mapstructure:"retrieve"`
	Compose  time.Duration `mapstructure:"compose"`
	Resolve  time.Duration `mapstructure:"resolve"`
	Schedule time.Duration `mapstructure:"schedule"` // 包含网关重试
	Score    time.Duration `mapstructure:"score"`
	Store    time.Duration `mapstructure:"store"`
}

// DefaultTimeouts 默认超时
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Classify: 20 * time.Second,
		Retrieve: 30 * time.Second,
		Compose:  30 * time.Second,
		Resolve:  15 * time.Second,
		Schedule: 60 * time.Second,
		Score:    25 * time.Second,
		Store:    10 * time.Second,
	}
}

// Config 编排器配置
type Config struct {
	Company         string
	OrganizerEmail  string
	Location        *time.Location
	HoursLabel      string // 营业时间描述，用于拒绝回复
	DefaultDuration time.Duration
	Source          string // 写入线索的来源标记
	HistoryLimit    int    // 提供给意图识别的历史消息数
	ExcerptLimit    int    // 提供给评分的线索相关消息数
	Alternatives    int    // 时间不可用时推荐的替代时间数
	Timeouts        Timeouts
}

func (c Config) withDefaults() Config {
	if c.Company == "" {
		c.Company = "our company"
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.HoursLabel == "" {
		c.HoursLabel = scheduling.DefaultBusinessHours(c.Location).String()
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = scheduling.DefaultDuration
	}
	if c.Source == "" {
		c.Source = "chat"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.ExcerptLimit <= 0 {
		c.ExcerptLimit = 6
	}
	if c.Alternatives <= 0 {
		c.Alternatives = 3
	}
	def := DefaultTimeouts()
	fill := func(dst *time.Duration, v time.Duration) {
		if *dst <= 0 {
			*dst = v
		}
	}
	fill(&c.Timeouts.Classify, def.Classify)
	fill(&c.Timeouts.Retrieve, def.Retrieve)
	fill(&c.Timeouts.Compose, def.Compose)
	fill(&c.Timeouts.Resolve, def.Resolve)
	fill(&c.Timeouts.Schedule, def.Schedule)
	fill(&c.Timeouts.Score, def.Score)
	fill(&c.Timeouts.Store, def.Store)
	return c
}

// Deps 协作组件，Composer、Suggester、Recorder 可为空
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Composer   Composer
	Resolver   scheduling.TimeResolver
	Gateway    scheduling.Gateway
	Suggester  scheduling.Suggester
	Scorer     LeadScorer
	Store      LeadStore
	Recorder   Recorder
}

// Orchestrator 对话编排器，自身无会话状态，可被多个会话并发使用
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New 创建编排器
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	var missing []string
	if deps.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if deps.Retriever == nil {
		missing = append(missing, "retriever")
	}
	if deps.Resolver == nil {
		missing = append(missing, "time resolver")
	}
	if deps.Gateway == nil {
		missing = append(missing, "scheduling gateway")
	}
	if deps.Scorer == nil {
		missing = append(missing, "lead scorer")
	}
	if deps.Store == nil {
		missing = append(missing, "lead store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}
	if deps.Composer == nil {
		deps.Composer = TemplateComposer{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Orchestrator{deps: deps, cfg: cfg.withDefaults(), now: time.Now}, nil
}

// SetClock 替换时钟
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Company 公司名称
func (o *Orchestrator) Company() string {
	return o.cfg.Company
}

// Greet 开场问候
func (o *Orchestrator) Greet(state models.ConversationState) (models.Message, models.ConversationState) {
	next := state.Clone()
	if next.Phase == "" {
		next.Phase = models.PhaseGreeting
	}
	msg := models.NewMessage(models.RoleAssistant, greeting(o.cfg.Company), o.now())
	next.Append(msg)
	return msg, next
}

// turn 单轮处理上下文
type turn struct {
	state  *models.ConversationState
	text   string
	intent models.Intent
	cls    Classification
}

// HandleTurn 处理一条用户消息，返回助手回复和更新后的状态
// 不返回错误也不会 panic，所有失败都转为回复
func (o *Orchestrator) HandleTurn(ctx context.Context, state models.ConversationState, userMessage string) (reply models.Message, next models.ConversationState) {
	started := o.now()
	next = state.Clone()
	if next.Phase == "" {
		next.Phase = models.PhaseGreeting
	}
	t := &turn{state: &next, text: strings.TrimSpace(userMessage), intent: models.IntentOther}

	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked in conversation %s: %v\n%s", next.ID, r, debug.Stack())
			next.Phase = models.PhaseFailed
			reply = o.respond(&next, replyApology)
		}
		o.deps.Recorder.TurnHandled(t.intent, next.Phase, o.now().Sub(started))
	}()

	if t.text == "" {
		return o.respond(&next, replyClarify), next
	}

	cls, err := o.classify(ctx, next, t.text)
	user := models.NewMessage(models.RoleUser, t.text, o.now())
	user.LeadRelevant = err == nil && (cls.Entities.Scheduling() || cls.Entities.Need != "" ||
		cls.Intent == models.IntentSchedulingRequest || cls.Intent == models.IntentCorrection)
	next.Append(user)

	switch {
	case errors.Is(err, ErrClassificationAmbiguous):
		log.Debug("ambiguous message in conversation %s", next.ID)
		return o.respond(&next, replyClarify), next
	case err != nil:
		log.Error("classification failed in conversation %s: %v", next.ID, err)
		next.Phase = models.PhaseFailed
		return o.respond(&next, replyApology), next
	}
	t.cls = cls
	t.intent = cls.Intent

	act := route(next.Phase, cls.Intent)
	log.Debug("conversation %s: phase=%s intent=%s action=%s", next.ID, next.Phase, cls.Intent, act)
	text := o.run(ctx, t, act)
	return o.respond(&next, text), next
}

func (o *Orchestrator) classify(ctx context.Context, state models.ConversationState, text string) (cls Classification, err error) {
	err = o.call(ctx, o.cfg.Timeouts.Classify, "classify", func(ctx context.Context) error {
		var cerr error
		cls, cerr = o.deps.Classifier.Classify(ctx, ClassifyInput{
			Text:    text,
			Phase:   state.Phase,
			History: state.History(o.cfg.HistoryLimit),
			Lead:    state.Lead,
			Meeting: state.Meeting,
		})
		return cerr
	})
	return cls, err
}

// respond 追加助手消息
func (o *Orchestrator) respond(state *models.ConversationState, text string) models.Message {
	msg := models.NewMessage(models.RoleAssistant, text, o.now())
	state.Append(msg)
	return msg
}

// call 带超时调用协作组件，panic 转为错误
func (o *Orchestrator) call(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("%s panicked: %v", name, r)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}
