package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xuri/excelize/v2"

	"github.com/run-bigpig/bizassist/internal/crm"
	"github.com/run-bigpig/bizassist/internal/metrics"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/session"
)

type echoHandler struct{}

func (echoHandler) Greet(st models.ConversationState) (models.Message, models.ConversationState) {
	msg := models.NewMessage(models.RoleAssistant, "Welcome!", time.Now())
	st.Append(msg)
	return msg, st
}

func (echoHandler) HandleTurn(_ context.Context, st models.ConversationState, text string) (models.Message, models.ConversationState) {
	st = st.Clone()
	st.Append(models.NewMessage(models.RoleUser, text, time.Now()))
	msg := models.NewMessage(models.RoleAssistant, "echo: "+text, time.Now())
	st.Append(msg)
	st.Phase = models.PhaseAnswering
	return msg, st
}

func newTestServer(t *testing.T, opts Options) (*Server, *crm.MemoryStore) {
	t.Helper()
	leads := crm.NewMemoryStore()
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	mgr := session.NewManager(session.NewMemoryStore(time.Hour), echoHandler{})
	return New(mgr, leads, opts), leads
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

// TestConversationLifecycle 测试会话创建、发送、查询和删除
func TestConversationLifecycle(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	resp, body := doJSON(t, s, http.MethodPost, "/api/conversations", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("创建会话 status %d: %v", resp.StatusCode, body)
	}
	id, _ := body["conversationId"].(string)
	if id == "" {
		t.Fatalf("缺少 conversationId: %v", body)
	}
	if reply := body["reply"].(map[string]any); reply["content"] != "Welcome!" {
		t.Errorf("欢迎语: %v", reply)
	}

	resp, body = doJSON(t, s, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("发送消息 status %d: %v", resp.StatusCode, body)
	}
	if body["phase"] != "answering" || body["persisted"] != true {
		t.Errorf("响应: %v", body)
	}
	if reply := body["reply"].(map[string]any); reply["content"] != "echo: hi" {
		t.Errorf("回复: %v", reply)
	}

	resp, body = doJSON(t, s, http.MethodGet, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("查询 status %d", resp.StatusCode)
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 3 {
		t.Errorf("期望 3 条消息, got %d", len(msgs))
	}

	resp, _ = doJSON(t, s, http.MethodDelete, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("删除 status %d", resp.StatusCode)
	}
	resp, body = doJSON(t, s, http.MethodGet, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] == nil {
		t.Errorf("删除后应 404, got %d %v", resp.StatusCode, body)
	}
}

// TestConversationErrors 测试错误请求
func TestConversationErrors(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	resp, _ := doJSON(t, s, http.MethodPost, "/api/conversations/nope/messages", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("不存在的会话应 404, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/x/messages", strings.NewReader("{bad"))
	req.Header.Set("Content-Type", "application/json")
	r, _ := s.App().Test(req, -1)
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("非法 JSON 应 400, got %d", r.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/conversations", map[string]string{"id": "bad id!"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("非法 ID 应 400, got %d", resp.StatusCode)
	}

	if resp, _ := doJSON(t, s, http.MethodPost, "/api/conversations", map[string]string{"id": "dup"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("创建失败: %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, s, http.MethodPost, "/api/conversations", map[string]string{"id": "dup"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("重复 ID 应 409, got %d", resp.StatusCode)
	}
}

// TestRateLimit 测试单会话限流
func TestRateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, _ := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 1, Registerer: reg, Metrics: m})

	_, body := doJSON(t, s, http.MethodPost, "/api/conversations", map[string]string{"id": "limited"})
	if body["conversationId"] != "limited" {
		t.Fatalf("指定 ID 创建失败: %v", body)
	}
	path := "/api/conversations/limited/messages"
	if resp, _ := doJSON(t, s, http.MethodPost, path, map[string]string{"message": "one"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("第一条应成功, got %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, s, http.MethodPost, path, map[string]string{"message": "two"}); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("第二条应被限流, got %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Errorf("限流计数 %v", got)
	}

	t.Run("限流器只跟踪已存在的会话", func(t *testing.T) {
		for _, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
			resp, _ := doJSON(t, s, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"message": "hi"})
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("%s 应 404, got %d", id, resp.StatusCode)
			}
		}
		doJSON(t, s, http.MethodPost, "/api/conversations", map[string]string{"id": "second"})
		doJSON(t, s, http.MethodPost, "/api/conversations/second/messages", map[string]string{"message": "hello"})

		keys := s.limiter.keys()
		sort.Strings(keys)
		if strings.Join(keys, ",") != "limited,second" {
			t.Errorf("限流器键不正确: %q", keys)
		}
		if resp, _ := doJSON(t, s, http.MethodDelete, "/api/conversations/limited", nil); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("删除失败: %d", resp.StatusCode)
		}
		if keys := s.limiter.keys(); len(keys) != 1 || keys[0] != "second" {
			t.Errorf("删除后限流器应移除, got %q", keys)
		}
	})
}

func seedLeads(t *testing.T, store *crm.MemoryStore) {
	t.Helper()
	for _, l := range []models.LeadRecord{
		{Name: "Jane", Email: "jane@acme.io", Company: "Acme", Score: 9, MeetingID: "m1"},
		{Name: "Bob", Email: "bob@gmail.com", Score: 3},
	} {
		if _, err := store.Upsert(context.Background(), &l); err != nil {
			t.Fatal(err)
		}
	}
}

// TestLeads 测试线索查询、统计和导出
func TestLeads(t *testing.T) {
	s, store := newTestServer(t, Options{})
	seedLeads(t, store)

	resp, body := doJSON(t, s, http.MethodGet, "/api/leads?status=hot", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("按状态过滤: %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, s, http.MethodGet, "/api/leads?min_score=1&limit=5", nil)
	if body["count"] != float64(2) {
		t.Errorf("全部线索: %d %v", resp.StatusCode, body)
	}
	if resp, _ := doJSON(t, s, http.MethodGet, "/api/leads?status=warm", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("未知状态应 400, got %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, s, http.MethodGet, "/api/leads?limit=-1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("负数 limit 应 400, got %d", resp.StatusCode)
	}

	_, body = doJSON(t, s, http.MethodGet, "/api/leads/stats", nil)
	if body["total"] != float64(2) || body["averageScore"] != float64(6) {
		t.Errorf("统计: %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/leads/export", nil)
	r, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if !strings.Contains(r.Header.Get("Content-Type"), "spreadsheetml") {
		t.Errorf("Content-Type: %s", r.Header.Get("Content-Type"))
	}
	f, err := excelize.OpenReader(r.Body)
	if err != nil {
		t.Fatalf("导出文件无法读取: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(crm.LeadSheet)
	if len(rows) != 3 {
		t.Errorf("期望表头加 2 行, got %d", len(rows))
	}
}

// TestHealthAndMetrics 测试健康检查和指标端点
func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Options{Chunks: func() int { return 7 }})

	resp, body := doJSON(t, s, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["knowledgeChunks"] != float64(7) {
		t.Errorf("健康检查: %d %v", resp.StatusCode, body)
	}

	r, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	if err != nil || r.StatusCode != http.StatusOK {
		t.Errorf("metrics 端点: %v %v", r, err)
	}
}
