// Package server 对话和线索的 HTTP API
package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/run-bigpig/bizassist/internal/crm"
	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/metrics"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/session"
)

var log = logger.New("Server")

// 请求处理超时
const (
	turnTimeout  = 3 * time.Minute
	queryTimeout = 15 * time.Second
)

// Options 服务参数
type Options struct {
	RateLimit  float64 // 每个会话每秒消息数
	RateBurst  int
	BodyLimit  int
	Registerer prometheus.Registerer
	Metrics    *metrics.Metrics
	// Chunks 返回知识库片段数，用于健康检查
	Chunks func() int
}

// Server HTTP 服务
type Server struct {
	app      *fiber.App
	sessions *session.Manager
	leads    crm.Store
	opts     Options
	limiter  *conversationLimiter
	started  time.Time
}

// New 创建服务并注册路由
func New(sessions *session.Manager, leads crm.Store, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 1 << 20
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	s := &Server{
		sessions: sessions,
		leads:    leads,
		opts:     opts,
		limiter:  newConversationLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		started:  time.Now(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:      "bizassist",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: turnTimeout,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    opts.BodyLimit,
		ErrorHandler: errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestLogger)

	prom := fiberprometheus.NewWithRegistry(opts.Registerer, "bizassist", "http", "", nil)
	prom.RegisterAt(s.app, "/metrics")
	s.app.Use(prom.Middleware)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api")
	conversations := api.Group("/conversations")
	conversations.Post("/", s.startConversation)
	conversations.Get("/:id", s.getConversation)
	conversations.Delete("/:id", s.deleteConversation)
	conversations.Post("/:id/messages", s.sendMessage)

	leads := api.Group("/leads")
	leads.Get("/", s.listLeads)
	leads.Get("/stats", s.leadStats)
	leads.Get("/export", s.exportLeads)
}

// App 底层 fiber 应用
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen 阻塞直到服务关闭
func (s *Server) Listen(addr string) error {
	log.Info("listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown 等待进行中的请求结束
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type startRequest struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	ConversationID string                `json:"conversationId"`
	Reply          models.Message        `json:"reply"`
	Phase          models.Phase          `json:"phase"`
	Lead           models.LeadContext    `json:"lead"`
	Meeting        models.MeetingContext `json:"meeting"`
	Persisted      bool                  `json:"persisted"`
}

func newTurnResponse(reply models.Message, st models.ConversationState, persisted bool) turnResponse {
	return turnResponse{
		ConversationID: st.ID,
		Reply:          reply,
		Phase:          st.Phase,
		Lead:           st.Lead,
		Meeting:        st.Meeting,
		Persisted:      persisted,
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Chunks != nil {
		resp["knowledgeChunks"] = s.opts.Chunks()
	}
	return c.JSON(resp)
}

func (s *Server) startConversation(c *fiber.Ctx) error {
	var req startRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	reply, st, err := s.sessions.Start(c.UserContext(), req.ID)
	switch {
	case errors.Is(err, session.ErrInvalidID):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrExists):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return s.sessionError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(newTurnResponse(reply, st, true))
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	// 只为已存在的会话创建限流器
	if _, err := s.sessions.Get(c.UserContext(), id); err != nil {
		return s.sessionError(err)
	}
	if !s.limiter.allow(id) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RateLimited.Inc()
		}
		return fiber.NewError(fiber.StatusTooManyRequests, "too many messages, please slow down")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), turnTimeout)
	defer cancel()
	reply, st, err := s.sessions.Send(ctx, id, req.Message)
	switch {
	case err == nil:
		return c.JSON(newTurnResponse(reply, st, true))
	case st.ID != "":
		// 已生成回复但状态未保存
		if s.opts.Metrics != nil {
			s.opts.Metrics.SessionFailures.Inc()
		}
		return c.JSON(newTurnResponse(reply, st, false))
	default:
		return s.sessionError(err)
	}
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	st, err := s.sessions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(st)
}

func (s *Server) deleteConversation(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if err := s.sessions.Delete(c.UserContext(), id); err != nil {
		return s.sessionError(err)
	}
	s.limiter.forget(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listLeads(c *fiber.Ctx) error {
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), queryTimeout)
	defer cancel()
	leads, err := s.leads.List(ctx, opts)
	if err != nil {
		return s.leadError(err)
	}
	if leads == nil {
		leads = []models.LeadRecord{}
	}
	return c.JSON(fiber.Map{"leads": leads, "count": len(leads)})
}

func (s *Server) leadStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), queryTimeout)
	defer cancel()
	stats, err := crm.Stats(ctx, s.leads)
	if err != nil {
		return s.leadError(err)
	}
	return c.JSON(stats)
}

func (s *Server) exportLeads(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), queryTimeout)
	defer cancel()
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="leads.xlsx"`)
	if _, err := crm.ExportXLSX(ctx, s.leads, c.Response().BodyWriter()); err != nil {
		c.Set(fiber.HeaderContentDisposition, "")
		return s.leadError(err)
	}
	return nil
}

func listOptions(c *fiber.Ctx) (crm.ListOptions, error) {
	var opts crm.ListOptions
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		opts.Status = models.LeadStatus(status)
		valid := false
		for _, s := range models.AllLeadStatuses {
			if strings.EqualFold(string(s), status) {
				opts.Status, valid = s, true
			}
		}
		if !valid {
			return opts, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		}
	}
	for name, dst := range map[string]*int{"min_score": &opts.MinScore, "limit": &opts.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		}
		*dst = n
	}
	return opts, nil
}

func (s *Server) sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "conversation not found")
	case errors.Is(err, session.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, "a previous message is still being processed")
	default:
		log.Error("session error: %v", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "conversation service temporarily unavailable")
	}
}

func (s *Server) leadError(err error) error {
	log.Error("lead store error: %v", err)
	if errors.Is(err, crm.ErrStoreUnavailable) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "lead store temporarily unavailable")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read leads")
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := err.Error()
	if code == fiber.StatusInternalServerError && fe == nil {
		log.Error("%s %s: %v", c.Method(), c.Path(), err)
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug("%s %s %d %v", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
	return err
}

// conversationLimiter 每个会话独立的令牌桶
type conversationLimiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map // conversationID -> *rate.Limiter
}

func newConversationLimiter(limit rate.Limit, burst int) *conversationLimiter {
	return &conversationLimiter{limit: limit, burst: burst}
}

func (l *conversationLimiter) allow(id string) bool {
	v, _ := l.limiters.LoadOrStore(id, rate.NewLimiter(l.limit, l.burst))
	return v.(*rate.Limiter).Allow()
}

func (l *conversationLimiter) forget(id string) {
	l.limiters.Delete(id)
}

func (l *conversationLimiter) keys() []string {
	var ids []string
	l.limiters.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
